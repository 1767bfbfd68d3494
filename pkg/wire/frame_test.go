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

package wire

import (
	"errors"
	"testing"

	"github.com/SeisComP/common-sub009/pkg/core"
)

func TestEncodeDecode(t *testing.T) {
	in := &core.Packet{
		Type:            core.PacketData,
		Sender:          "scautopick",
		Target:          "PICK",
		MessageType:     core.MessageTransient,
		ContentEncoding: "gzip",
		ContentType:     "text/json",
		Seq:             300,
		Payload:         []byte{0, 1, 2, 255},
	}
	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Sender != in.Sender || out.Target != in.Target {
		t.Fatalf("expected %s -> %s, got %s -> %s", in.Sender, in.Target, out.Sender, out.Target)
	}
	if out.Seq != 300 {
		t.Fatalf("expected seq 300, got %d", out.Seq)
	}
	if out.MessageType != core.MessageTransient {
		t.Fatalf("expected transient, got %s", out.MessageType)
	}
	if out.ContentEncoding != "gzip" || out.ContentType != "text/json" {
		t.Fatalf("unexpected headers %q %q", out.ContentEncoding, out.ContentType)
	}
	if string(out.Payload) != string(in.Payload) {
		t.Fatalf("payload mismatch: %v", out.Payload)
	}
}

func TestDecodeControlWithoutPayload(t *testing.T) {
	in := &core.Packet{Type: core.PacketEnterGroup, Sender: "scamp", Target: "AMPLITUDE"}
	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Type != core.PacketEnterGroup {
		t.Fatalf("expected enter packet, got %s", out.Type)
	}
	if out.Payload != nil {
		t.Fatalf("expected nil payload, got %v", out.Payload)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte("SM")); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
	if _, err := Decode([]byte("XX\x01\x00\x00")); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
	if _, err := Decode([]byte("SM\x09\x00\x00")); !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}
	frame := Encode(&core.Packet{Sender: "long-sender-name"})
	if _, err := Decode(frame[:8]); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame for truncated frame, got %v", err)
	}
}
