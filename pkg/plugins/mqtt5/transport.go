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

// Package mqtt5 maps groups onto MQTT 5 topics. Packet fields travel as
// the publish content type and user properties.
package mqtt5

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/plugins"
	"github.com/SeisComP/common-sub009/pkg/protocol"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

const (
	Scheme      = "mqtt5"
	defaultPort = "1883"
)

type Transport struct {
	logger *slog.Logger

	mu      sync.Mutex
	cm      *autopaho.ConnectionManager
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
	serverURL, err := url.Parse("mqtt://" + addr.HostPort())
	if err != nil {
		return nil, fmt.Errorf("mqtt5 invalid URL: %v: %w", err, core.NewResult(core.InvalidURL))
	}
	clientID := opts.ClientName
	if clientID == "" {
		clientID = core.GenerateClientName()
	}

	closing := &atomic.Bool{}
	var maxPayload atomic.Int64
	fail := func(err error) {
		if closing.CompareAndSwap(false, true) {
			inbox.Fail(err)
		}
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         0,
		ConnectUsername:               addr.Username,
		ConnectPassword:               []byte(addr.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			if connAck != nil && connAck.Properties != nil && connAck.Properties.MaximumPacketSize != nil {
				maxPayload.Store(int64(*connAck.Properties.MaximumPacketSize))
			}
			t.logger.Info("mqtt5 connection up", "broker", serverURL.Host, "client_id", clientID)
		},
		OnConnectError: func(err error) {
			t.logger.Debug("mqtt5 connect attempt failed", "broker", serverURL.Host, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					t.deliver(inbox, addr, pr.Packet)
					return true, nil
				},
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				fail(fmt.Errorf("mqtt5 server disconnect (reason %d): %w", d.ReasonCode, core.NewResult(core.ConnectionClosedByPeer)))
			},
			OnClientError: func(err error) {
				fail(fmt.Errorf("mqtt5 client error: %v: %w", err, core.NewResult(core.NetworkError)))
			},
		},
	}

	cm, err := autopaho.NewConnection(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt5 connection: %v: %w", err, core.NewResult(core.NetworkError))
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		closing.Store(true)
		cm.Disconnect(context.Background())
		return nil, fmt.Errorf("mqtt5 await connection: %w", err)
	}

	t.mu.Lock()
	t.cm = cm
	t.addr = addr
	t.inbox = inbox
	t.closing = closing
	t.mu.Unlock()

	return &core.Handshake{
		ClientName:     clientID,
		MaxPayloadSize: int(maxPayload.Load()),
	}, nil
}

func (t *Transport) deliver(inbox core.Inbox, addr plugins.Address, p *paho.Publish) {
	group, ok := addr.Group(p.Topic, "/")
	if !ok {
		return
	}
	get := func(string) string { return "" }
	if p.Properties != nil {
		props := p.Properties
		get = func(key string) string {
			if key == core.HeaderContentType && props.ContentType != "" {
				return props.ContentType
			}
			return props.User.Get(key)
		}
	}
	inbox.Deliver(plugins.PacketFromHeaders(group, p.Payload, get))
}

func (t *Transport) current() (*autopaho.ConnectionManager, plugins.Address, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cm == nil {
		return nil, plugins.Address{}, fmt.Errorf("mqtt5: %w", core.NewResult(core.NotConnected))
	}
	return t.cm, t.addr, nil
}

func (t *Transport) Subscribe(ctx context.Context, group string) error {
	cm, addr, err := t.current()
	if err != nil {
		return err
	}
	suback, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: addr.Topic(group, "/"), QoS: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("mqtt5 subscribe %s: %v: %w", group, err, core.NewResult(core.NetworkError))
	}
	if suback != nil && len(suback.Reasons) > 0 && suback.Reasons[0] >= 0x80 {
		return fmt.Errorf("mqtt5 subscribe %s: reason %#x: %w", group, suback.Reasons[0], core.NewResult(core.GroupDoesNotExist))
	}
	return nil
}

func (t *Transport) Unsubscribe(ctx context.Context, group string) error {
	cm, addr, err := t.current()
	if err != nil {
		return err
	}
	if _, err := cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{addr.Topic(group, "/")}}); err != nil {
		return fmt.Errorf("mqtt5 unsubscribe %s: %v: %w", group, err, core.NewResult(core.NetworkError))
	}
	return nil
}

// Publish uses QoS 1 for regular messages. The broker's PUBACK is the
// acknowledgement.
func (t *Transport) Publish(ctx context.Context, pkt *core.Packet) error {
	t.mu.Lock()
	cm, addr, inbox := t.cm, t.addr, t.inbox
	t.mu.Unlock()
	if cm == nil {
		return fmt.Errorf("mqtt5: %w", core.NewResult(core.NotConnected))
	}

	props := &paho.PublishProperties{ContentType: pkt.ContentType}
	for k, v := range plugins.Headers(pkt) {
		if k == core.HeaderContentType {
			continue
		}
		props.User = append(props.User, paho.UserProperty{Key: k, Value: v})
	}
	var qos byte
	if pkt.MessageType == core.MessageRegular {
		qos = 1
	}
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:      addr.Topic(pkt.Target, "/"),
		QoS:        qos,
		Payload:    pkt.Payload,
		Properties: props,
	})
	if err != nil {
		return fmt.Errorf("mqtt5 publish %s: %v: %w", pkt.Target, err, core.NewResult(core.NetworkError))
	}
	if qos == 1 {
		inbox.Acknowledge(pkt.Seq)
	}
	return nil
}

// Flush has nothing to wait for: Publish returns after the PUBACK.
func (t *Transport) Flush(ctx context.Context) error {
	if _, _, err := t.current(); err != nil {
		return err
	}
	return ctx.Err()
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	cm, closing := t.cm, t.closing
	t.cm = nil
	t.mu.Unlock()
	if cm == nil {
		return nil
	}
	closing.Store(true)
	if err := cm.Disconnect(ctx); err != nil {
		return fmt.Errorf("mqtt5 disconnect: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), core.DefaultTimeout)
	defer cancel()
	return t.Disconnect(ctx)
}
