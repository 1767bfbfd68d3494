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

package loopback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/protocol"
)

const Scheme = "loopback"

// Transport attaches one client to a Hub. The address names the hub.
type Transport struct {
	mu   sync.Mutex
	hub  *Hub
	name string
}

func NewTransport() *Transport {
	return &Transport{}
}

// New returns a loopback protocol ready for registration.
func New(logger *slog.Logger) core.Protocol {
	return protocol.New(NewTransport(), protocol.WithLogger(logger))
}

func (t *Transport) Type() string { return Scheme }

func (t *Transport) Dial(ctx context.Context, address string, opts core.DialOptions, inbox core.Inbox) (*core.Handshake, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hub := Lookup(hubName(address))
	hs, err := hub.join(opts.ClientName, opts.MembershipInfo, inbox)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.hub = hub
	t.name = hs.ClientName
	t.mu.Unlock()
	return hs, nil
}

func (t *Transport) attached() (*Hub, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hub == nil {
		return nil, "", fmt.Errorf("loopback: %w", core.NewResult(core.NotConnected))
	}
	return t.hub, t.name, nil
}

func (t *Transport) Subscribe(_ context.Context, group string) error {
	hub, name, err := t.attached()
	if err != nil {
		return err
	}
	return hub.subscribe(name, group)
}

func (t *Transport) Unsubscribe(_ context.Context, group string) error {
	hub, name, err := t.attached()
	if err != nil {
		return err
	}
	return hub.unsubscribe(name, group)
}

func (t *Transport) Publish(_ context.Context, pkt *core.Packet) error {
	hub, _, err := t.attached()
	if err != nil {
		return err
	}
	return hub.publish(pkt)
}

// Flush returns at once. The hub acknowledges every publish synchronously.
func (t *Transport) Flush(ctx context.Context) error {
	return ctx.Err()
}

func (t *Transport) Disconnect(context.Context) error {
	return t.Close()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	hub, name := t.hub, t.name
	t.hub, t.name = nil, ""
	t.mu.Unlock()
	if hub != nil {
		hub.leave(name)
	}
	return nil
}

func (t *Transport) Pending() int { return 0 }
