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

// Package solace maps groups onto Solace topics. Data flows through a
// direct receiver with dynamic subscriptions and a direct publisher.
package solace

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
	"github.com/google/uuid"
	"solace.dev/go/messaging"
	"solace.dev/go/messaging/pkg/solace"
	"solace.dev/go/messaging/pkg/solace/config"
	"solace.dev/go/messaging/pkg/solace/message"
	"solace.dev/go/messaging/pkg/solace/resource"
)

const (
	Scheme      = "solace"
	defaultPort = "55555"
	defaultVPN  = "default"

	terminateGrace = 5 * time.Second
)

type link struct {
	service   solace.MessagingService
	receiver  solace.DirectMessageReceiver
	publisher solace.DirectMessagePublisher
	addr      plugins.Address
	inbox     core.Inbox
	closing   atomic.Bool
}

type Transport struct {
	logger *slog.Logger

	mu   sync.Mutex
	link *link
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

// serviceProperties maps an address onto the messaging service
// configuration. The "vpn" query parameter selects the message VPN.
func serviceProperties(addr plugins.Address, clientName string) config.ServicePropertyMap {
	vpn := addr.Query.Get("vpn")
	if vpn == "" {
		vpn = defaultVPN
	}
	props := config.ServicePropertyMap{
		config.TransportLayerPropertyHost: "tcp://" + addr.HostPort(),
		config.ServicePropertyVPNName:     vpn,
		config.ClientPropertyName:         clientName,
	}
	if addr.Username != "" {
		props[config.AuthenticationPropertySchemeBasicUserName] = addr.Username
		props[config.AuthenticationPropertySchemeBasicPassword] = addr.Password
	}
	return props
}

func (t *Transport) Dial(ctx context.Context, address string, opts core.DialOptions, inbox core.Inbox) (*core.Handshake, error) {
	addr, err := plugins.ParseAddress(address, defaultPort)
	if err != nil {
		return nil, err
	}
	name := opts.ClientName
	if name == "" {
		name = core.GenerateClientName()
	}

	service, err := messaging.NewMessagingServiceBuilder().
		FromConfigurationProvider(serviceProperties(addr, name)).
		Build()
	if err != nil {
		return nil, fmt.Errorf("solace build: %v: %w", err, core.NewResult(core.InvalidURL))
	}
	if err := connect(ctx, service); err != nil {
		return nil, err
	}

	l := &link{service: service, addr: addr, inbox: inbox}
	l.receiver, err = service.CreateDirectMessageReceiverBuilder().Build()
	if err == nil {
		err = l.receiver.Start()
	}
	if err == nil {
		err = l.receiver.ReceiveAsync(func(m message.InboundMessage) {
			if pkt, ok := toPacket(addr, m); ok {
				inbox.Deliver(pkt)
			}
		})
	}
	if err == nil {
		l.publisher, err = service.CreateDirectMessagePublisherBuilder().Build()
	}
	if err == nil {
		err = l.publisher.Start()
	}
	if err != nil {
		l.shutdown()
		return nil, fmt.Errorf("solace setup: %v: %w", err, core.NewResult(core.NetworkError))
	}
	service.AddServiceInterruptionListener(func(ev solace.ServiceEvent) {
		if l.closing.CompareAndSwap(false, true) {
			inbox.Fail(fmt.Errorf("solace interrupted: %v: %w", ev.GetCause(), core.NewResult(core.ConnectionClosedByPeer)))
		}
	})

	t.mu.Lock()
	t.link = l
	t.mu.Unlock()
	t.logger.Info("solace connected", "host", addr.HostPort(), "client_name", name)

	return &core.Handshake{ClientName: name}, nil
}

// connect runs the blocking connect so ctx can abandon it.
func connect(ctx context.Context, service solace.MessagingService) error {
	errc := make(chan error, 1)
	go func() { errc <- service.Connect() }()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("solace connect: %v: %w", err, core.NewResult(core.NetworkError))
		}
		return nil
	case <-ctx.Done():
		go func() {
			if <-errc == nil {
				service.Disconnect()
			}
		}()
		return fmt.Errorf("solace connect: %w", ctx.Err())
	}
}

func toPacket(addr plugins.Address, m message.InboundMessage) (*core.Packet, bool) {
	group, ok := addr.Group(m.GetDestinationName(), "/")
	if !ok {
		return nil, false
	}
	payload, _ := m.GetPayloadAsBytes()
	return plugins.PacketFromHeaders(group, payload, func(key string) string {
		switch key {
		case core.HeaderContentType:
			ct, _ := m.GetHTTPContentType()
			return ct
		case core.HeaderContentEncoding:
			ce, _ := m.GetHTTPContentEncoding()
			return ce
		}
		if v, ok := m.GetProperty(key); ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}), true
}

func (t *Transport) current() (*link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.link == nil {
		return nil, fmt.Errorf("solace: %w", core.NewResult(core.NotConnected))
	}
	return t.link, nil
}

func (t *Transport) Subscribe(_ context.Context, group string) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	if err := l.receiver.AddSubscription(resource.TopicSubscriptionOf(l.addr.Topic(group, "/"))); err != nil {
		return fmt.Errorf("solace subscribe %s: %v: %w", group, err, core.NewResult(core.NetworkError))
	}
	return nil
}

func (t *Transport) Unsubscribe(_ context.Context, group string) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	if err := l.receiver.RemoveSubscription(resource.TopicSubscriptionOf(l.addr.Topic(group, "/"))); err != nil {
		return fmt.Errorf("solace unsubscribe %s: %v: %w", group, err, core.NewResult(core.NetworkError))
	}
	return nil
}

func (t *Transport) Publish(_ context.Context, pkt *core.Packet) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	b := l.service.MessageBuilder().
		WithApplicationMessageID(uuid.NewString()).
		WithHTTPContentHeader(pkt.ContentType, pkt.ContentEncoding)
	for k, v := range plugins.Headers(pkt) {
		if k != core.HeaderContentType && k != core.HeaderContentEncoding {
			b = b.WithProperty(config.MessageProperty(k), v)
		}
	}
	msg, err := b.BuildWithByteArrayPayload(pkt.Payload)
	if err != nil {
		return fmt.Errorf("solace message: %v: %w", err, core.NewResult(core.Error))
	}
	if err := l.publisher.Publish(msg, resource.TopicOf(l.addr.Topic(pkt.Target, "/"))); err != nil {
		return fmt.Errorf("solace publish %s: %v: %w", pkt.Target, err, core.NewResult(core.NetworkError))
	}
	if pkt.MessageType == core.MessageRegular {
		l.inbox.Acknowledge(pkt.Seq)
	}
	return nil
}

func (t *Transport) Flush(ctx context.Context) error {
	if _, err := t.current(); err != nil {
		return err
	}
	return ctx.Err()
}

func (t *Transport) Disconnect(context.Context) error {
	return t.Close()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	l := t.link
	t.link = nil
	t.mu.Unlock()
	if l == nil {
		return nil
	}
	l.shutdown()
	return nil
}

func (l *link) shutdown() {
	l.closing.Store(true)
	if l.publisher != nil {
		l.publisher.Terminate(terminateGrace)
	}
	if l.receiver != nil {
		l.receiver.Terminate(terminateGrace)
	}
	l.service.Disconnect()
}
