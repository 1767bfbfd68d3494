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

// Package mqtt carries packets over MQTT 3.1.1. The protocol has no
// message headers, so every payload is a wire frame.
package mqtt

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
	"github.com/SeisComP/common-sub009/pkg/wire"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	Scheme      = "mqtt"
	defaultPort = "1883"
)

type Transport struct {
	logger *slog.Logger

	mu      sync.Mutex
	client  pahomqtt.Client
	addr    plugins.Address
	inbox   core.Inbox
	closing *atomic.Bool
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
	clientID := opts.ClientName
	if clientID == "" {
		clientID = core.GenerateClientName()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = core.DefaultTimeout
	}

	closing := &atomic.Bool{}
	mo := pahomqtt.NewClientOptions().
		AddBroker("tcp://" + addr.HostPort()).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetConnectTimeout(timeout).
		SetKeepAlive(30 * time.Second).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			if closing.CompareAndSwap(false, true) {
				inbox.Fail(fmt.Errorf("mqtt connection lost: %v: %w", err, core.NewResult(core.ConnectionClosedByPeer)))
			}
		})
	if addr.Username != "" {
		mo.SetUsername(addr.Username).SetPassword(addr.Password)
	}

	client := pahomqtt.NewClient(mo)
	if err := wait(ctx, client.Connect()); err != nil {
		closing.Store(true)
		return nil, fmt.Errorf("mqtt connect %s: %w", addr.HostPort(), err)
	}

	t.mu.Lock()
	t.client = client
	t.addr = addr
	t.inbox = inbox
	t.closing = closing
	t.mu.Unlock()
	t.logger.Info("mqtt connected", "broker", addr.HostPort(), "client_id", clientID)

	return &core.Handshake{ClientName: clientID}, nil
}

// wait blocks until tok completes or ctx ends.
func wait(ctx context.Context, tok pahomqtt.Token) error {
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("%v: %w", err, core.NewResult(core.NetworkError))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) current() (pahomqtt.Client, plugins.Address, core.Inbox, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, plugins.Address{}, nil, fmt.Errorf("mqtt: %w", core.NewResult(core.NotConnected))
	}
	return t.client, t.addr, t.inbox, nil
}

func (t *Transport) Subscribe(ctx context.Context, group string) error {
	client, addr, inbox, err := t.current()
	if err != nil {
		return err
	}
	tok := client.Subscribe(addr.Topic(group, "/"), 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
		pkt, err := wire.Decode(m.Payload())
		if err != nil {
			t.logger.Warn("mqtt dropped malformed frame", "topic", m.Topic(), "error", err)
			return
		}
		inbox.Deliver(pkt)
	})
	if err := wait(ctx, tok); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", group, err)
	}
	return nil
}

func (t *Transport) Unsubscribe(ctx context.Context, group string) error {
	client, addr, _, err := t.current()
	if err != nil {
		return err
	}
	if err := wait(ctx, client.Unsubscribe(addr.Topic(group, "/"))); err != nil {
		return fmt.Errorf("mqtt unsubscribe %s: %w", group, err)
	}
	return nil
}

func (t *Transport) Publish(ctx context.Context, pkt *core.Packet) error {
	client, addr, inbox, err := t.current()
	if err != nil {
		return err
	}
	var qos byte
	if pkt.MessageType == core.MessageRegular {
		qos = 1
	}
	if err := wait(ctx, client.Publish(addr.Topic(pkt.Target, "/"), qos, false, wire.Encode(pkt))); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", pkt.Target, err)
	}
	if qos == 1 {
		inbox.Acknowledge(pkt.Seq)
	}
	return nil
}

func (t *Transport) Flush(ctx context.Context) error {
	if _, _, _, err := t.current(); err != nil {
		return err
	}
	return ctx.Err()
}

func (t *Transport) Disconnect(context.Context) error {
	return t.Close()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	client, closing := t.client, t.closing
	t.client = nil
	t.mu.Unlock()
	if client == nil {
		return nil
	}
	closing.Store(true)
	client.Disconnect(250)
	return nil
}
