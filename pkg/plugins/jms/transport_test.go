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

package jms

import (
	"context"
	"errors"
	"testing"

	"github.com/SeisComP/common-sub009/pkg/core"
)

func TestMessageMapping(t *testing.T) {
	in := &core.Packet{
		Type:            core.PacketData,
		Sender:          "scevent",
		Target:          "EVENT",
		MessageType:     core.MessageRegular,
		ContentEncoding: "lz4",
		ContentType:     "application/x-bson",
		Seq:             9,
		Payload:         []byte{1, 2, 3},
	}
	msg := fromPacket(in)
	if msg.Header == nil || !msg.Header.Durable {
		t.Fatal("expected regular messages to be durable")
	}

	out := toPacket("EVENT", msg)
	if out.Sender != "scevent" || out.Seq != 9 || out.MessageType != core.MessageRegular {
		t.Fatalf("unexpected packet %+v", out)
	}
	if out.ContentType != in.ContentType || out.ContentEncoding != in.ContentEncoding {
		t.Fatalf("expected content headers to survive, got %q %q", out.ContentType, out.ContentEncoding)
	}
	if string(out.Payload) != string(in.Payload) {
		t.Fatalf("expected payload to survive, got %v", out.Payload)
	}
}

func TestTransientNotDurable(t *testing.T) {
	msg := fromPacket(&core.Packet{Target: "GUI", MessageType: core.MessageTransient})
	if msg.Header != nil {
		t.Fatalf("expected no durable header, got %+v", msg.Header)
	}
}

func TestOperationsWithoutSession(t *testing.T) {
	tr := NewTransport(nil)
	ctx := context.Background()
	if err := tr.Publish(ctx, &core.Packet{Target: "EVENT"}); !errors.Is(err, core.NewResult(core.NotConnected)) {
		t.Fatalf("expected NotConnected, got %v", err)
	}
	if err := tr.Unsubscribe(ctx, "EVENT"); !errors.Is(err, core.NewResult(core.NotSubscribed)) {
		t.Fatalf("expected NotSubscribed, got %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
