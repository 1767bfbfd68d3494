// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

// MaxDecodedSize bounds the output of a single decompression.
const MaxDecodedSize = 64 << 20

var ErrTooLarge = errors.New("decoded payload exceeds limit")

// Compress applies a content encoding to raw bytes.
func Compress(enc core.ContentEncoding, data []byte) ([]byte, error) {
	var (
		buf bytes.Buffer
		w   io.WriteCloser
		err error
	)
	switch enc {
	case core.EncodingIdentity:
		return data, nil
	case core.EncodingDeflate:
		w, err = flate.NewWriter(&buf, flate.DefaultCompression)
	case core.EncodingGzip:
		w = gzip.NewWriter(&buf)
	case core.EncodingLZ4:
		w = lz4.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("compress: %w", core.NewResult(core.ContentEncodingUnknown))
	}
	if err != nil {
		return nil, fmt.Errorf("compress %s: %w", enc, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("compress %s: %w", enc, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress %s: %w", enc, err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(enc core.ContentEncoding, data []byte) ([]byte, error) {
	var r io.Reader
	switch enc {
	case core.EncodingIdentity:
		return data, nil
	case core.EncodingDeflate:
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		r = fr
	case core.EncodingGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompress gzip: %w", err)
		}
		defer gr.Close()
		r = gr
	case core.EncodingLZ4:
		r = lz4.NewReader(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("decompress: %w", core.NewResult(core.ContentEncodingUnknown))
	}

	out, err := io.ReadAll(io.LimitReader(r, MaxDecodedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", enc, err)
	}
	if len(out) > MaxDecodedSize {
		return nil, fmt.Errorf("decompress %s: %w", enc, ErrTooLarge)
	}
	return out, nil
}
