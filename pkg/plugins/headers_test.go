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

package plugins

import (
	"testing"

	"github.com/SeisComP/common-sub009/pkg/core"
)

func TestHeadersCarryPacketFields(t *testing.T) {
	in := &core.Packet{
		Type:            core.PacketData,
		Sender:          "scautopick",
		Target:          "PICK",
		MessageType:     core.MessageTransient,
		ContentEncoding: "gzip",
		ContentType:     "text/json",
		Seq:             42,
		Payload:         []byte("body"),
	}
	h := Headers(in)
	out := PacketFromHeaders("PICK", in.Payload, func(k string) string { return h[k] })

	if out.Sender != in.Sender || out.MessageType != in.MessageType || out.Seq != 42 {
		t.Fatalf("unexpected packet %+v", out)
	}
	if out.ContentEncoding != "gzip" || out.ContentType != "text/json" {
		t.Fatalf("expected content headers to survive, got %q %q", out.ContentEncoding, out.ContentType)
	}
}

func TestPacketFromMissingHeaders(t *testing.T) {
	out := PacketFromHeaders("EVENT", nil, func(string) string { return "" })
	if out.MessageType != core.MessageRegular || out.Seq != 0 || out.ContentEncoding != "" {
		t.Fatalf("expected defaults, got %+v", out)
	}
}
