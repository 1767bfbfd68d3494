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

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestResultOK(t *testing.T) {
	if !Success.OK() {
		t.Fatal("expected Success to be OK")
	}
	if Success.Err() != nil {
		t.Fatalf("expected nil error for OK, got %v", Success.Err())
	}
	r := NewResult(NotConnected)
	if r.OK() {
		t.Fatal("expected NotConnected to be not OK")
	}
	if r.Code() != NotConnected {
		t.Fatalf("expected NotConnected, got %s", r.Code())
	}
	if r.Err() == nil {
		t.Fatal("expected non-nil error")
	}
}

func TestResultOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, OK},
		{NewResult(DuplicateUsername), DuplicateUsername},
		{fmt.Errorf("scmp connect: %w", NewResult(GroupDoesNotExist)), GroupDoesNotExist},
		{context.DeadlineExceeded, TimeoutError},
		{fmt.Errorf("dial: %w", context.Canceled), Cancelled},
		{errors.New("boom"), NetworkError},
	}
	for _, tt := range tests {
		if got := ResultOf(tt.err).Code(); got != tt.want {
			t.Errorf("ResultOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestResultIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewResult(MessageTooLarge))
	if !errors.Is(err, NewResult(MessageTooLarge)) {
		t.Fatal("expected errors.Is to match by code")
	}
	if errors.Is(err, NewResult(MissingGroup)) {
		t.Fatal("expected errors.Is not to match a different code")
	}
}

func TestParseCode(t *testing.T) {
	c, ok := ParseCode("DuplicateUsername")
	if !ok || c != DuplicateUsername {
		t.Fatalf("expected DuplicateUsername, got %s", c)
	}
	if _, ok := ParseCode("nope"); ok {
		t.Fatal("expected unknown code name to fail")
	}
}

func TestParseContentEncoding(t *testing.T) {
	for _, enc := range ContentEncodings() {
		got, res := ParseContentEncoding(enc.String())
		if !res.OK() || got != enc {
			t.Errorf("ParseContentEncoding(%q) = %v, %v", enc.String(), got, res)
		}
	}
	if got, res := ParseContentEncoding(""); !res.OK() || got != EncodingIdentity {
		t.Fatalf("expected empty encoding to be identity, got %v %v", got, res)
	}
	if _, res := ParseContentEncoding("brotli"); res.Code() != ContentEncodingUnknown {
		t.Fatalf("expected ContentEncodingUnknown, got %v", res)
	}
}

func TestParseContentType(t *testing.T) {
	for _, ct := range ContentTypes() {
		got, res := ParseContentType(ct.String())
		if !res.OK() || got != ct {
			t.Errorf("ParseContentType(%q) = %v, %v", ct.String(), got, res)
		}
	}
	if _, res := ParseContentType("application/yaml"); res.Code() != ContentTypeUnknown {
		t.Fatalf("expected ContentTypeUnknown, got %v", res)
	}
	if _, res := ParseContentType(""); res.Code() != ContentTypeUnknown {
		t.Fatalf("expected ContentTypeUnknown for empty header, got %v", res)
	}
}

func TestParseMessageType(t *testing.T) {
	tests := []struct {
		input string
		want  MessageType
		code  Code
	}{
		{"regular", MessageRegular, OK},
		{"transient", MessageTransient, OK},
		{"status", MessageStatus, OK},
		{"", MessageRegular, OK},
		{"urgent", MessageRegular, InvalidMessageType},
	}
	for _, tt := range tests {
		got, res := ParseMessageType(tt.input)
		if got != tt.want || res.Code() != tt.code {
			t.Errorf("ParseMessageType(%q) = %v, %v; want %v, %v", tt.input, got, res.Code(), tt.want, tt.code)
		}
	}
}

func TestValidGroupName(t *testing.T) {
	if !ValidGroupName(StatusGroup) {
		t.Fatal("expected STATUS_GROUP to be valid")
	}
	for _, name := range []string{"", "a b", "events/#", "x+"} {
		if ValidGroupName(name) {
			t.Errorf("expected %q to be invalid", name)
		}
	}
}

func TestPacketClone(t *testing.T) {
	p := &Packet{Type: PacketData, Target: "PICK", Payload: []byte("abc")}
	cp := p.Clone()
	cp.Payload[0] = 'x'
	if string(p.Payload) != "abc" {
		t.Fatalf("expected original payload untouched, got %q", p.Payload)
	}
}
