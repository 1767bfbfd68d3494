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

package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SeisComP/common-sub009/pkg/core"
)

type nopInbox struct{}

func (nopInbox) Deliver(*core.Packet) {}
func (nopInbox) Acknowledge(uint64)   {}
func (nopInbox) Fail(error)           {}

func TestSchemes(t *testing.T) {
	if got := NewTransport(false, nil).Type(); got != "amqp" {
		t.Fatalf("expected amqp, got %s", got)
	}
	if got := NewTransport(true, nil).Type(); got != "amqps" {
		t.Fatalf("expected amqps, got %s", got)
	}
}

func TestOperationsWithoutSession(t *testing.T) {
	tr := NewTransport(false, nil)
	ctx := context.Background()
	notConnected := core.NewResult(core.NotConnected)

	if err := tr.Subscribe(ctx, "PICK"); !errors.Is(err, notConnected) {
		t.Fatalf("expected NotConnected, got %v", err)
	}
	if err := tr.Publish(ctx, &core.Packet{Target: "PICK"}); !errors.Is(err, notConnected) {
		t.Fatalf("expected NotConnected, got %v", err)
	}
	if err := tr.Flush(ctx); !errors.Is(err, notConnected) {
		t.Fatalf("expected NotConnected, got %v", err)
	}
	if n := tr.Pending(); n != 0 {
		t.Fatalf("expected no pending confirms, got %d", n)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestDialRefused(t *testing.T) {
	tr := NewTransport(false, nil)
	_, err := tr.Dial(context.Background(), "guest:guest@127.0.0.1:1/", core.DialOptions{ClientName: "probe", Timeout: 200 * time.Millisecond}, nopInbox{})
	if res := core.ResultOf(err); res.Code() != core.NetworkError {
		t.Fatalf("expected NetworkError, got %v (%v)", res, err)
	}
}
