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

// Package jms talks AMQP 1.0 to JMS-style brokers such as ActiveMQ
// Artemis. A group is a broker address, optionally prefixed through the
// "prefix" query parameter (for example prefix=topic://).
package jms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Azure/go-amqp"
	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/plugins"
	"github.com/SeisComP/common-sub009/pkg/protocol"
)

const (
	Scheme      = "amqp1"
	defaultPort = "5672"
)

type receiver struct {
	link   *amqp.Receiver
	cancel context.CancelFunc
	done   chan struct{}
}

type Transport struct {
	logger *slog.Logger

	mu        sync.Mutex
	conn      *amqp.Conn
	session   *amqp.Session
	prefix    string
	inbox     core.Inbox
	closing   *atomic.Bool
	senders   map[string]*amqp.Sender
	receivers map[string]*receiver
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

	connOpts := &amqp.ConnOptions{ContainerID: clientID}
	if addr.Username != "" {
		connOpts.SASLType = amqp.SASLTypePlain(addr.Username, addr.Password)
	}
	conn, err := amqp.Dial(ctx, "amqp://"+addr.HostPort(), connOpts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("jms dial: %w", ctx.Err())
		}
		return nil, fmt.Errorf("jms dial: %v: %w", err, core.NewResult(core.NetworkError))
	}
	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jms session: %v: %w", err, core.NewResult(core.NetworkError))
	}

	t.mu.Lock()
	t.conn = conn
	t.session = session
	t.prefix = addr.Query.Get("prefix")
	t.inbox = inbox
	t.closing = &atomic.Bool{}
	t.senders = make(map[string]*amqp.Sender)
	t.receivers = make(map[string]*receiver)
	t.mu.Unlock()

	t.logger.Info("jms connected", "broker", addr.HostPort(), "container_id", clientID)
	return &core.Handshake{ClientName: clientID}, nil
}

func (t *Transport) Subscribe(ctx context.Context, group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return fmt.Errorf("jms: %w", core.NewResult(core.NotConnected))
	}
	link, err := t.session.NewReceiver(ctx, t.prefix+group, &amqp.ReceiverOptions{Credit: 100})
	if err != nil {
		return fmt.Errorf("jms receiver %s: %v: %w", group, err, core.NewResult(core.GroupDoesNotExist))
	}
	rctx, cancel := context.WithCancel(context.Background())
	r := &receiver{link: link, cancel: cancel, done: make(chan struct{})}
	t.receivers[group] = r
	go t.receive(rctx, group, r, t.inbox, t.closing)
	return nil
}

func (t *Transport) receive(ctx context.Context, group string, r *receiver, inbox core.Inbox, closing *atomic.Bool) {
	defer close(r.done)
	for {
		msg, err := r.link.Receive(ctx, nil)
		if err != nil {
			if ctx.Err() != nil || closing.Load() {
				return
			}
			code := core.NetworkError
			var connErr *amqp.ConnError
			if errors.As(err, &connErr) {
				code = core.ConnectionClosedByPeer
			}
			if closing.CompareAndSwap(false, true) {
				inbox.Fail(fmt.Errorf("jms receive %s: %v: %w", group, err, core.NewResult(code)))
			}
			return
		}
		if err := r.link.AcceptMessage(ctx, msg); err != nil {
			t.logger.Warn("jms accept failed", "group", group, "error", err)
		}
		inbox.Deliver(toPacket(group, msg))
	}
}

func toPacket(group string, msg *amqp.Message) *core.Packet {
	var payload []byte
	if data := msg.GetData(); len(data) > 0 {
		payload = data
	}
	return plugins.PacketFromHeaders(group, payload, func(key string) string {
		if msg.Properties != nil {
			switch key {
			case core.HeaderContentType:
				if msg.Properties.ContentType != nil {
					return *msg.Properties.ContentType
				}
			case core.HeaderContentEncoding:
				if msg.Properties.ContentEncoding != nil {
					return *msg.Properties.ContentEncoding
				}
			}
		}
		switch v := msg.ApplicationProperties[key].(type) {
		case string:
			return v
		case uint64:
			return strconv.FormatUint(v, 10)
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	})
}

func fromPacket(pkt *core.Packet) *amqp.Message {
	props := map[string]any{}
	for k, v := range plugins.Headers(pkt) {
		if k != core.HeaderContentType && k != core.HeaderContentEncoding {
			props[k] = v
		}
	}
	mp := &amqp.MessageProperties{UserID: []byte(pkt.Sender)}
	if pkt.ContentType != "" {
		ct := pkt.ContentType
		mp.ContentType = &ct
	}
	if pkt.ContentEncoding != "" {
		ce := pkt.ContentEncoding
		mp.ContentEncoding = &ce
	}
	msg := &amqp.Message{
		Data:                  [][]byte{pkt.Payload},
		Properties:            mp,
		ApplicationProperties: props,
	}
	if pkt.MessageType == core.MessageRegular {
		msg.Header = &amqp.MessageHeader{Durable: true}
	}
	return msg
}

func (t *Transport) Unsubscribe(ctx context.Context, group string) error {
	t.mu.Lock()
	r, ok := t.receivers[group]
	delete(t.receivers, group)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("jms unsubscribe %s: %w", group, core.NewResult(core.NotSubscribed))
	}
	r.cancel()
	<-r.done
	return r.link.Close(ctx)
}

func (t *Transport) sender(ctx context.Context, target string) (*amqp.Sender, core.Inbox, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return nil, nil, fmt.Errorf("jms: %w", core.NewResult(core.NotConnected))
	}
	if s, ok := t.senders[target]; ok {
		return s, t.inbox, nil
	}
	s, err := t.session.NewSender(ctx, t.prefix+target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("jms sender %s: %v: %w", target, err, core.NewResult(core.GroupDoesNotExist))
	}
	t.senders[target] = s
	return s, t.inbox, nil
}

// Publish returns once the broker has settled the transfer, which counts
// as the acknowledgement for regular messages.
func (t *Transport) Publish(ctx context.Context, pkt *core.Packet) error {
	s, inbox, err := t.sender(ctx, pkt.Target)
	if err != nil {
		return err
	}
	if err := s.Send(ctx, fromPacket(pkt), nil); err != nil {
		return fmt.Errorf("jms send %s: %v: %w", pkt.Target, err, core.NewResult(core.NetworkError))
	}
	if pkt.MessageType == core.MessageRegular {
		inbox.Acknowledge(pkt.Seq)
	}
	return nil
}

func (t *Transport) Flush(ctx context.Context) error {
	t.mu.Lock()
	connected := t.session != nil
	t.mu.Unlock()
	if !connected {
		return fmt.Errorf("jms: %w", core.NewResult(core.NotConnected))
	}
	return ctx.Err()
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session != nil {
		session.Close(ctx)
	}
	return t.Close()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	conn, closing, receivers := t.conn, t.closing, t.receivers
	t.conn, t.session, t.senders, t.receivers = nil, nil, nil, nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	closing.Store(true)
	for _, r := range receivers {
		r.cancel()
	}
	return conn.Close()
}
