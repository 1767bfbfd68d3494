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

package core

import "time"

// Well-known groups.
const (
	StatusGroup   = "STATUS_GROUP"
	ListenerGroup = "LISTENER_GROUP"
	ImportGroup   = "IMPORT_GROUP"
)

// Header names carried by data packets.
const (
	HeaderContentEncoding = "content-encoding"
	HeaderContentType     = "content-type"
	HeaderMessageType     = "message-type"
	HeaderSender          = "sender"
	HeaderSequence        = "seq"
)

type ContentEncoding int

const (
	EncodingIdentity ContentEncoding = iota
	EncodingDeflate
	EncodingGzip
	EncodingLZ4
)

var encodingNames = [...]string{"identity", "deflate", "gzip", "lz4"}

// ContentEncodings lists every supported encoding.
func ContentEncodings() []ContentEncoding {
	return []ContentEncoding{EncodingIdentity, EncodingDeflate, EncodingGzip, EncodingLZ4}
}

func (e ContentEncoding) String() string {
	if e >= 0 && int(e) < len(encodingNames) {
		return encodingNames[e]
	}
	return ""
}

func (e ContentEncoding) Valid() bool {
	return e >= 0 && int(e) < len(encodingNames)
}

// ParseContentEncoding resolves a header value. An empty value is identity.
func ParseContentEncoding(s string) (ContentEncoding, Result) {
	if s == "" {
		return EncodingIdentity, Success
	}
	for i, n := range encodingNames {
		if n == s {
			return ContentEncoding(i), Success
		}
	}
	return EncodingIdentity, NewResult(ContentEncodingUnknown)
}

type ContentType int

const (
	TypeBinary ContentType = iota
	TypeJSON
	TypeBSON
	TypeXML
	TypeImportedXML
	TypeText
)

var contentTypeNames = [...]string{
	"application/x-bin",
	"text/json",
	"application/x-bson",
	"application/x-xml",
	"text/xml",
	"text/plain",
}

// ContentTypes lists every supported content type.
func ContentTypes() []ContentType {
	return []ContentType{TypeBinary, TypeJSON, TypeBSON, TypeXML, TypeImportedXML, TypeText}
}

func (t ContentType) String() string {
	if t >= 0 && int(t) < len(contentTypeNames) {
		return contentTypeNames[t]
	}
	return ""
}

func (t ContentType) Valid() bool {
	return t >= 0 && int(t) < len(contentTypeNames)
}

func ParseContentType(s string) (ContentType, Result) {
	for i, n := range contentTypeNames {
		if n == s {
			return ContentType(i), Success
		}
	}
	return TypeBinary, NewResult(ContentTypeUnknown)
}

type MessageType int

const (
	MessageRegular MessageType = iota
	MessageTransient
	MessageStatus
)

var messageTypeNames = [...]string{"regular", "transient", "status"}

func (m MessageType) String() string {
	if m >= 0 && int(m) < len(messageTypeNames) {
		return messageTypeNames[m]
	}
	return ""
}

func (m MessageType) Valid() bool {
	return m >= 0 && int(m) < len(messageTypeNames)
}

// ParseMessageType resolves a header value. An empty value is regular.
func ParseMessageType(s string) (MessageType, Result) {
	if s == "" {
		return MessageRegular, Success
	}
	for i, n := range messageTypeNames {
		if n == s {
			return MessageType(i), Success
		}
	}
	return MessageRegular, NewResult(InvalidMessageType)
}

type PacketType int

const (
	PacketData PacketType = iota
	PacketEnterGroup
	PacketLeaveGroup
	PacketDisconnected
	PacketAck
)

var packetTypeNames = [...]string{"data", "enter", "leave", "disconnected", "ack"}

func (p PacketType) String() string {
	if p >= 0 && int(p) < len(packetTypeNames) {
		return packetTypeNames[p]
	}
	return "unknown"
}

func ParsePacketType(s string) (PacketType, bool) {
	for i, n := range packetTypeNames {
		if n == s {
			return PacketType(i), true
		}
	}
	return PacketData, false
}

// Packet is one transport-level unit. For membership packets Sender names
// the client that joined or left and Target the group concerned.
type Packet struct {
	Type            PacketType
	Sender          string
	Target          string
	MessageType     MessageType
	ContentEncoding string
	ContentType     string
	Seq             uint64
	Payload         []byte
	Received        time.Time
}

func (p *Packet) IsData() bool { return p.Type == PacketData }

// Encoding parses the content-encoding header.
func (p *Packet) Encoding() (ContentEncoding, Result) {
	return ParseContentEncoding(p.ContentEncoding)
}

// ContentKind parses the content-type header.
func (p *Packet) ContentKind() (ContentType, Result) {
	return ParseContentType(p.ContentType)
}

// Clone returns a deep copy, used when one packet fans out to several inboxes.
func (p *Packet) Clone() *Packet {
	cp := *p
	if p.Payload != nil {
		cp.Payload = append([]byte(nil), p.Payload...)
	}
	return &cp
}
