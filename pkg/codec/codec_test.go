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
	"strings"
	"testing"
	"time"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAllPairs(t *testing.T) {
	generic := &message.Generic{
		Kind: "pick",
		Attributes: []message.Attribute{
			{Name: "station", Value: "GE.APE"},
			{Name: "phase", Value: "P"},
		},
		Body: []byte("onset=impulsive"),
	}
	notification := &message.Notification{
		Operation: message.OpUpdate,
		ParentID:  "EventParameters",
		ObjectID:  "Origin/20250101.120000.1",
		Created:   time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		Body:      "depth=10",
	}

	for _, enc := range core.ContentEncodings() {
		for _, ct := range core.ContentTypes() {
			msgs := []message.Message{message.NewText("hello & <world>")}
			if ct != core.TypeText {
				msgs = append(msgs, generic, notification)
			}
			for _, msg := range msgs {
				name := enc.String() + "/" + ct.String() + "/" + msg.ClassName()
				t.Run(name, func(t *testing.T) {
					data, res, err := Encode(msg, enc, ct, core.DefaultSchemaVersion)
					require.NoError(t, err)
					require.True(t, res.OK(), "encode result %s", res)

					got, res, err := Decode(data, enc.String(), ct.String())
					require.NoError(t, err)
					require.True(t, res.OK(), "decode result %s", res)
					assert.Equal(t, msg, got)
				})
			}
		}
	}
}

func TestDecodeMissingEncodingIsIdentity(t *testing.T) {
	data, res, err := Encode(message.NewText("plain"), core.EncodingIdentity, core.TypeJSON, "")
	require.NoError(t, err)
	require.True(t, res.OK())

	got, res, err := Decode(data, "", core.TypeJSON.String())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, message.NewText("plain"), got)
}

func TestDecodeUnknownHeaders(t *testing.T) {
	_, res, err := Decode([]byte("x"), "brotli", core.TypeText.String())
	assert.Error(t, err)
	assert.Equal(t, core.ContentEncodingUnknown, res.Code())

	_, res, err = Decode([]byte("x"), "gzip", "application/msgpack")
	assert.Error(t, err)
	assert.Equal(t, core.ContentTypeUnknown, res.Code())
}

func TestDecodeCorruptPayload(t *testing.T) {
	_, res, err := Decode([]byte("not gzip"), "gzip", core.TypeJSON.String())
	assert.Error(t, err)
	assert.Equal(t, core.DecodingError, res.Code())

	_, res, err = Decode([]byte("{"), "identity", core.TypeJSON.String())
	assert.Error(t, err)
	assert.Equal(t, core.DecodingError, res.Code())

	_, res, err = Decode([]byte("XXXX"), "identity", core.TypeBinary.String())
	assert.ErrorIs(t, err, ErrBadEnvelope)
	assert.Equal(t, core.DecodingError, res.Code())
}

func TestDecodeUnknownClass(t *testing.T) {
	payload := []byte(`{"class":"Unregistered","body":{}}`)
	_, res, err := Decode(payload, "", core.TypeJSON.String())
	assert.ErrorIs(t, err, message.ErrUnknownClass)
	assert.Equal(t, core.DecodingError, res.Code())
}

func TestEncodeTextRejectsOtherClasses(t *testing.T) {
	_, res, err := Encode(&message.Generic{Kind: "x"}, core.EncodingIdentity, core.TypeText, "")
	assert.ErrorIs(t, err, ErrNotText)
	assert.Equal(t, core.EncodingError, res.Code())
}

func TestEncodeInvalidEnums(t *testing.T) {
	_, res, _ := Encode(message.NewText("x"), core.ContentEncoding(42), core.TypeText, "")
	assert.Equal(t, core.ContentEncodingUnknown, res.Code())
	_, res, _ = Encode(message.NewText("x"), core.EncodingIdentity, core.ContentType(-1), "")
	assert.Equal(t, core.ContentTypeUnknown, res.Code())
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	data := bytes.Repeat([]byte("waveform "), 1000)
	for _, enc := range []core.ContentEncoding{core.EncodingDeflate, core.EncodingGzip, core.EncodingLZ4} {
		out, err := Compress(enc, data)
		require.NoError(t, err, enc.String())
		assert.Less(t, len(out), len(data), enc.String())

		back, err := Decompress(enc, out)
		require.NoError(t, err, enc.String())
		assert.Equal(t, data, back, enc.String())
	}
}

func TestImportedXMLRoot(t *testing.T) {
	data, err := Marshal(core.TypeImportedXML, message.NewText("x"), "0.13")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "<seiscomp"), string(data))

	data, err = Marshal(core.TypeXML, message.NewText("x"), "0.13")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "<message"), string(data))
}
