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

// Package wire frames packets for transports that carry opaque bytes only.
//
// Frame layout:
//
//	magic    2 bytes  "SM"
//	version  1 byte
//	type     1 byte   packet type
//	seq      uvarint
//	sender, target, message-type, content-encoding, content-type
//	         uvarint length + bytes each
//	payload  remaining bytes
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/SeisComP/common-sub009/pkg/core"
)

const Version = 1

var (
	ErrShortFrame = errors.New("wire: short frame")
	ErrBadMagic   = errors.New("wire: bad magic")
	ErrVersion    = errors.New("wire: unsupported version")
)

var magic = [2]byte{'S', 'M'}

// Encode serializes a packet into a single frame.
func Encode(pkt *core.Packet) []byte {
	var buf bytes.Buffer
	buf.Grow(64 + len(pkt.Payload))
	buf.Write(magic[:])
	buf.WriteByte(Version)
	buf.WriteByte(byte(pkt.Type))
	putUvarint(&buf, pkt.Seq)
	putString(&buf, pkt.Sender)
	putString(&buf, pkt.Target)
	putString(&buf, pkt.MessageType.String())
	putString(&buf, pkt.ContentEncoding)
	putString(&buf, pkt.ContentType)
	buf.Write(pkt.Payload)
	return buf.Bytes()
}

// Decode parses a frame produced by Encode. The payload aliases data.
func Decode(data []byte) (*core.Packet, error) {
	if len(data) < 4 {
		return nil, ErrShortFrame
	}
	if data[0] != magic[0] || data[1] != magic[1] {
		return nil, ErrBadMagic
	}
	if data[2] != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, data[2])
	}
	pkt := &core.Packet{Type: core.PacketType(data[3])}
	rest := data[4:]

	seq, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, ErrShortFrame
	}
	pkt.Seq = seq
	rest = rest[n:]

	var fields [5]string
	for i := range fields {
		s, tail, err := getString(rest)
		if err != nil {
			return nil, err
		}
		fields[i] = s
		rest = tail
	}
	pkt.Sender = fields[0]
	pkt.Target = fields[1]
	mt, res := core.ParseMessageType(fields[2])
	if !res.OK() {
		return nil, fmt.Errorf("wire: %w", res)
	}
	pkt.MessageType = mt
	pkt.ContentEncoding = fields[3]
	pkt.ContentType = fields[4]
	if len(rest) > 0 {
		pkt.Payload = rest
	}
	return pkt, nil
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var b [binary.MaxVarintLen64]byte
	buf.Write(b[:binary.PutUvarint(b[:], v)])
}

func putString(buf *bytes.Buffer, s string) {
	putUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func getString(data []byte) (string, []byte, error) {
	l, n := binary.Uvarint(data)
	if n <= 0 {
		return "", nil, ErrShortFrame
	}
	data = data[n:]
	if uint64(len(data)) < l {
		return "", nil, ErrShortFrame
	}
	return string(data[:l]), data[l:], nil
}
