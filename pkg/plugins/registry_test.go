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
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/protocol"
)

type nopTransport struct{ core.Transport }

func (nopTransport) Type() string { return "nop" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register("NOP", func(logger *slog.Logger) core.Protocol {
		return protocol.New(nopTransport{}, protocol.WithLogger(logger))
	})

	if !r.Has("nop") {
		t.Fatal("expected scheme to be registered case-insensitively")
	}
	p, err := r.Create("Nop", nil)
	if err != nil {
		t.Fatalf("expected create to succeed, got %v", err)
	}
	if p.Type() != "nop" {
		t.Fatalf("expected nop protocol, got %s", p.Type())
	}
	if p.IsConnected() {
		t.Fatal("expected fresh protocol to be disconnected")
	}
}

func TestRegistryUnknownScheme(t *testing.T) {
	r := NewRegistry(testLogger())
	_, err := r.Create("gopher", nil)
	if !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme, got %v", err)
	}
}

func TestRegistrySchemesSorted(t *testing.T) {
	r := NewRegistry(testLogger())
	ctor := func(logger *slog.Logger) core.Protocol { return protocol.New(nopTransport{}) }
	r.Register("scmp", ctor)
	r.Register("amqp", ctor)
	r.Register("kafka", ctor)
	r.Unregister("kafka")

	got := r.Schemes()
	if len(got) != 2 || got[0] != "amqp" || got[1] != "scmp" {
		t.Fatalf("expected [amqp scmp], got %v", got)
	}
}
