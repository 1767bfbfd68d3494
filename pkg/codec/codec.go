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

// Package codec turns application messages into packet payloads and back:
// content type first, then content encoding on the way out, and the reverse
// on the way in.
package codec

import (
	"errors"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/message"
)

// Encode serializes msg with the given content type and compresses the
// result with the given encoding.
func Encode(msg message.Message, enc core.ContentEncoding, ct core.ContentType, schema string) ([]byte, core.Result, error) {
	if !enc.Valid() {
		return nil, core.NewResult(core.ContentEncodingUnknown), nil
	}
	if !ct.Valid() {
		return nil, core.NewResult(core.ContentTypeUnknown), nil
	}
	raw, err := Marshal(ct, msg, schema)
	if err != nil {
		return nil, core.NewResult(core.EncodingError), err
	}
	out, err := Compress(enc, raw)
	if err != nil {
		return nil, core.NewResult(core.EncodingError), err
	}
	return out, core.Success, nil
}

// Decode parses the content headers, decompresses and unmarshals a payload.
// Unknown headers fail with ContentEncodingUnknown or ContentTypeUnknown,
// anything else with DecodingError. The returned error carries the cause.
func Decode(payload []byte, encHeader, typeHeader string) (message.Message, core.Result, error) {
	enc, res := core.ParseContentEncoding(encHeader)
	if !res.OK() {
		return nil, res, errors.New("unknown content encoding " + encHeader)
	}
	ct, res := core.ParseContentType(typeHeader)
	if !res.OK() {
		return nil, res, errors.New("unknown content type " + typeHeader)
	}
	raw, err := Decompress(enc, payload)
	if err != nil {
		return nil, core.NewResult(core.DecodingError), err
	}
	msg, err := Unmarshal(ct, raw)
	if err != nil {
		return nil, core.NewResult(core.DecodingError), err
	}
	return msg, core.Success, nil
}

// DecodePacket decodes the payload of a data packet.
func DecodePacket(pkt *core.Packet) (message.Message, core.Result, error) {
	return Decode(pkt.Payload, pkt.ContentEncoding, pkt.ContentType)
}
