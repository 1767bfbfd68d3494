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
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/message"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	ErrNotText     = errors.New("only text messages can be sent as text/plain")
	ErrBadEnvelope = errors.New("malformed envelope")
)

var binaryMagic = [4]byte{'S', 'C', 'B', 1}

const (
	xmlRoot         = "message"
	importedXMLRoot = "seiscomp"
)

type jsonEnvelope struct {
	Class  string          `json:"class"`
	Schema string          `json:"schema,omitempty"`
	Body   json.RawMessage `json:"body"`
}

type bsonEnvelope struct {
	Class  string   `bson:"class"`
	Schema string   `bson:"schema,omitempty"`
	Body   bson.Raw `bson:"body"`
}

type xmlEnvelope struct {
	XMLName xml.Name
	Class   string `xml:"class,attr"`
	Schema  string `xml:"schema,attr,omitempty"`
	Body    []byte `xml:",innerxml"`
}

// Marshal serializes a message for a content type. Every type except text
// wraps the message in an envelope carrying its class and the schema version.
func Marshal(ct core.ContentType, msg message.Message, schema string) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("marshal: nil message")
	}
	switch ct {
	case core.TypeBinary:
		return marshalBinary(msg, schema)
	case core.TypeJSON:
		body, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return json.Marshal(jsonEnvelope{Class: msg.ClassName(), Schema: schema, Body: body})
	case core.TypeBSON:
		body, err := bson.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal bson: %w", err)
		}
		return bson.Marshal(bsonEnvelope{Class: msg.ClassName(), Schema: schema, Body: body})
	case core.TypeXML, core.TypeImportedXML:
		body, err := xml.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal xml: %w", err)
		}
		root := xmlRoot
		if ct == core.TypeImportedXML {
			root = importedXMLRoot
		}
		out, err := xml.Marshal(xmlEnvelope{
			XMLName: xml.Name{Local: root},
			Class:   msg.ClassName(),
			Schema:  schema,
			Body:    body,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal xml envelope: %w", err)
		}
		return append([]byte(xml.Header), out...), nil
	case core.TypeText:
		txt, ok := msg.(*message.Text)
		if !ok {
			return nil, fmt.Errorf("marshal %s: %w", msg.ClassName(), ErrNotText)
		}
		return []byte(txt.Content), nil
	}
	return nil, fmt.Errorf("marshal: %w", core.NewResult(core.ContentTypeUnknown))
}

// Unmarshal rebuilds a message from its serialized form.
func Unmarshal(ct core.ContentType, data []byte) (message.Message, error) {
	switch ct {
	case core.TypeBinary:
		return unmarshalBinary(data)
	case core.TypeJSON:
		var env jsonEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("unmarshal json envelope: %w", err)
		}
		msg, err := message.New(env.Class)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(env.Body, msg); err != nil {
			return nil, fmt.Errorf("unmarshal json %s: %w", env.Class, err)
		}
		return msg, nil
	case core.TypeBSON:
		var env bsonEnvelope
		if err := bson.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("unmarshal bson envelope: %w", err)
		}
		msg, err := message.New(env.Class)
		if err != nil {
			return nil, err
		}
		if err := bson.Unmarshal(env.Body, msg); err != nil {
			return nil, fmt.Errorf("unmarshal bson %s: %w", env.Class, err)
		}
		return msg, nil
	case core.TypeXML, core.TypeImportedXML:
		var env xmlEnvelope
		if err := xml.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("unmarshal xml envelope: %w", err)
		}
		msg, err := message.New(env.Class)
		if err != nil {
			return nil, err
		}
		if err := xml.Unmarshal(env.Body, msg); err != nil {
			return nil, fmt.Errorf("unmarshal xml %s: %w", env.Class, err)
		}
		return msg, nil
	case core.TypeText:
		return message.NewText(string(data)), nil
	}
	return nil, fmt.Errorf("unmarshal: %w", core.NewResult(core.ContentTypeUnknown))
}

func marshalBinary(msg message.Message, schema string) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(binaryMagic[:])
	writeString(&buf, msg.ClassName())
	writeString(&buf, schema)
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("marshal binary %s: %w", msg.ClassName(), err)
	}
	return buf.Bytes(), nil
}

func unmarshalBinary(data []byte) (message.Message, error) {
	if len(data) < len(binaryMagic) || !bytes.Equal(data[:len(binaryMagic)], binaryMagic[:]) {
		return nil, fmt.Errorf("unmarshal binary: %w", ErrBadEnvelope)
	}
	r := bytes.NewReader(data[len(binaryMagic):])
	class, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("unmarshal binary class: %w", err)
	}
	if _, err := readString(r); err != nil {
		return nil, fmt.Errorf("unmarshal binary schema: %w", err)
	}
	msg, err := message.New(class)
	if err != nil {
		return nil, err
	}
	if err := gob.NewDecoder(r).Decode(msg); err != nil {
		return nil, fmt.Errorf("unmarshal binary %s: %w", class, err)
	}
	return msg, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var n [binary.MaxVarintLen64]byte
	buf.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > uint64(r.Len()) {
		return "", ErrBadEnvelope
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", err
	}
	return string(b), nil
}
