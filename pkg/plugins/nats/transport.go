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

// Package nats maps groups onto NATS subjects and carries the packet
// fields as NATS message headers.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/plugins"
	"github.com/SeisComP/common-sub009/pkg/protocol"
	natsgo "github.com/nats-io/nats.go"
)

const (
	Scheme      = "nats"
	defaultPort = "4222"
)

type Transport struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *natsgo.Conn
	addr    plugins.Address
	inbox   core.Inbox
	closing *atomic.Bool
	subs    map[string]*natsgo.Subscription
}

func NewTransport(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{logger: logger}
}

func New(logger *slog.Logger) core.Protocol {
	return protocol.New(NewTransport(logger), protocol.WithLogger(logger))
}

func (t *Transport) Type() string { return Scheme }

func (t *Transport) Dial(ctx context.Context, address string, opts core.DialOptions, inbox core.Inbox) (*core.Handshake, error) {
	addr, err := plugins.ParseAddress(address, defaultPort)
	if err != nil {
		return nil, err
	}
	name := opts.ClientName
	if name == "" {
		name = core.GenerateClientName()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = core.DefaultTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	closing := &atomic.Bool{}
	natsOpts := []natsgo.Option{
		natsgo.Name(name),
		natsgo.Timeout(timeout),
		natsgo.NoReconnect(),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if closing.CompareAndSwap(false, true) {
				inbox.Fail(fmt.Errorf("nats disconnected: %v: %w", err, core.NewResult(core.ConnectionClosedByPeer)))
			}
		}),
	}
	if addr.Username != "" {
		natsOpts = append(natsOpts, natsgo.UserInfo(addr.Username, addr.Password))
	}
	conn, err := natsgo.Connect("nats://"+addr.HostPort(), natsOpts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("nats dial: %w", ctx.Err())
		}
		return nil, fmt.Errorf("nats dial: %v: %w", err, core.NewResult(core.NetworkError))
	}

	t.mu.Lock()
	t.conn = conn
	t.addr = addr
	t.inbox = inbox
	t.closing = closing
	t.subs = make(map[string]*natsgo.Subscription)
	t.mu.Unlock()
	t.logger.Info("nats connected", "server", conn.ConnectedUrlRedacted(), "client_name", name)

	return &core.Handshake{
		ClientName:     name,
		MaxPayloadSize: int(conn.MaxPayload()),
		Parameters:     core.KeyValueStore{"server_id": conn.ConnectedServerId()},
	}, nil
}

func (t *Transport) Subscribe(_ context.Context, group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("nats: %w", core.NewResult(core.NotConnected))
	}
	inbox := t.inbox
	sub, err := t.conn.Subscribe(t.addr.Topic(group, "."), func(m *natsgo.Msg) {
		inbox.Deliver(toPacket(group, m))
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %v: %w", group, err, core.NewResult(core.NetworkError))
	}
	t.subs[group] = sub
	return nil
}

func toPacket(group string, m *natsgo.Msg) *core.Packet {
	return plugins.PacketFromHeaders(group, m.Data, func(key string) string {
		if m.Header == nil {
			return ""
		}
		return m.Header.Get(key)
	})
}

func (t *Transport) Unsubscribe(_ context.Context, group string) error {
	t.mu.Lock()
	sub, ok := t.subs[group]
	delete(t.subs, group)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("nats unsubscribe %s: %w", group, core.NewResult(core.NotSubscribed))
	}
	return sub.Unsubscribe()
}

func (t *Transport) current() (*natsgo.Conn, plugins.Address, core.Inbox, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, plugins.Address{}, nil, fmt.Errorf("nats: %w", core.NewResult(core.NotConnected))
	}
	return t.conn, t.addr, t.inbox, nil
}

func (t *Transport) Publish(_ context.Context, pkt *core.Packet) error {
	conn, addr, inbox, err := t.current()
	if err != nil {
		return err
	}
	msg := natsgo.NewMsg(addr.Topic(pkt.Target, "."))
	msg.Data = pkt.Payload
	for k, v := range plugins.Headers(pkt) {
		msg.Header.Set(k, v)
	}
	if err := conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %v: %w", pkt.Target, err, core.NewResult(core.NetworkError))
	}
	if pkt.MessageType == core.MessageRegular {
		inbox.Acknowledge(pkt.Seq)
	}
	return nil
}

// Flush round-trips to the server so every buffered publish has been
// processed.
func (t *Transport) Flush(ctx context.Context) error {
	conn, _, _, err := t.current()
	if err != nil {
		return err
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("nats flush: %v: %w", err, core.NewResult(core.NetworkError))
	}
	return nil
}

// Disconnect flushes pending publishes and closes the session. The session
// is closed even when the flush fails; the flush error is returned.
func (t *Transport) Disconnect(ctx context.Context) error {
	if _, _, _, err := t.current(); err != nil {
		return nil
	}
	flushErr := t.Flush(ctx)
	if err := t.Close(); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}

func (t *Transport) Close() error {
	t.mu.Lock()
	conn, closing := t.conn, t.closing
	t.conn, t.subs = nil, nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	closing.Store(true)
	conn.Close()
	return nil
}
