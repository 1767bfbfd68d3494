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

// Package rabbitmq routes groups through an AMQP 0-9-1 topic exchange. Each
// client owns an exclusive queue named after it, which also makes client
// names unique on the broker.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/plugins"
	"github.com/SeisComP/common-sub009/pkg/protocol"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Scheme       = "amqp"
	SecureScheme = "amqps"

	DefaultExchange = "scmp"
	queuePrefix     = "scmp.client."
)

type confirm struct {
	seq uint64
	dc  *amqp.DeferredConfirmation
}

type Transport struct {
	secure bool
	logger *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	subCh    *amqp.Channel
	exchange string
	queue    string
	inbox    core.Inbox
	closing  *atomic.Bool
	pending  []confirm
}

func NewTransport(secure bool, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{secure: secure, logger: logger}
}

func New(logger *slog.Logger) core.Protocol {
	return protocol.New(NewTransport(false, logger), protocol.WithLogger(logger))
}

func NewSecure(logger *slog.Logger) core.Protocol {
	return protocol.New(NewTransport(true, logger), protocol.WithLogger(logger))
}

func (t *Transport) Type() string {
	if t.secure {
		return SecureScheme
	}
	return Scheme
}

func (t *Transport) Dial(ctx context.Context, address string, opts core.DialOptions, inbox core.Inbox) (*core.Handshake, error) {
	addr, err := plugins.ParseAddress(address, "")
	if err != nil {
		return nil, err
	}
	exchange := addr.Query.Get("exchange")
	if exchange == "" {
		exchange = DefaultExchange
	}
	clientID := opts.ClientName
	if clientID == "" {
		clientID = core.GenerateClientName()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = core.DefaultTimeout
	}

	scheme := Scheme
	if t.secure {
		scheme = SecureScheme
	}
	uri := scheme + "://" + strings.TrimPrefix(address, "//")
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}

	conn, err := amqp.DialConfig(uri, amqp.Config{
		Dial:       amqp.DefaultDial(timeout),
		Properties: amqp.Table{"connection_name": clientID},
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %v: %w", err, core.NewResult(core.NetworkError))
	}

	fail := func(err error) (*core.Handshake, error) {
		conn.Close()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		return fail(fmt.Errorf("rabbitmq publish channel: %v: %w", err, core.NewResult(core.NetworkError)))
	}
	if err := pubCh.Confirm(false); err != nil {
		return fail(fmt.Errorf("rabbitmq confirm mode: %v: %w", err, core.NewResult(core.NetworkError)))
	}
	if err := pubCh.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fail(fmt.Errorf("rabbitmq exchange declare %s: %v: %w", exchange, err, core.NewResult(core.NetworkError)))
	}

	subCh, err := conn.Channel()
	if err != nil {
		return fail(fmt.Errorf("rabbitmq consumer channel: %v: %w", err, core.NewResult(core.NetworkError)))
	}
	queue := queuePrefix + clientID
	if _, err := subCh.QueueDeclare(queue, false, true, true, false, nil); err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.ResourceLocked {
			return fail(fmt.Errorf("rabbitmq queue %s: %w", queue, core.NewResult(core.DuplicateUsername)))
		}
		return fail(fmt.Errorf("rabbitmq queue declare %s: %v: %w", queue, err, core.NewResult(core.NetworkError)))
	}
	deliveries, err := subCh.Consume(queue, clientID, true, true, false, false, nil)
	if err != nil {
		return fail(fmt.Errorf("rabbitmq consume: %v: %w", err, core.NewResult(core.NetworkError)))
	}

	closing := &atomic.Bool{}
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-notify; ok && amqpErr != nil && closing.CompareAndSwap(false, true) {
			inbox.Fail(fmt.Errorf("rabbitmq connection closed: %v: %w", amqpErr, core.NewResult(core.ConnectionClosedByPeer)))
		}
	}()
	go t.consume(deliveries, inbox)

	t.mu.Lock()
	t.conn = conn
	t.pubCh = pubCh
	t.subCh = subCh
	t.exchange = exchange
	t.queue = queue
	t.inbox = inbox
	t.closing = closing
	t.pending = nil
	t.mu.Unlock()

	t.logger.Info("rabbitmq connected", "exchange", exchange, "queue", queue)
	return &core.Handshake{
		ClientName: clientID,
		Parameters: core.KeyValueStore{"exchange": exchange},
	}, nil
}

func (t *Transport) consume(deliveries <-chan amqp.Delivery, inbox core.Inbox) {
	for d := range deliveries {
		pkt := plugins.PacketFromHeaders(d.RoutingKey, d.Body, func(key string) string {
			switch key {
			case core.HeaderContentType:
				return d.ContentType
			case core.HeaderContentEncoding:
				return d.ContentEncoding
			}
			if v, ok := d.Headers[key]; ok {
				return fmt.Sprint(v)
			}
			return ""
		})
		if !d.Timestamp.IsZero() {
			pkt.Received = d.Timestamp
		}
		inbox.Deliver(pkt)
	}
}

func (t *Transport) Subscribe(_ context.Context, group string) error {
	t.mu.Lock()
	ch, queue, exchange := t.subCh, t.queue, t.exchange
	t.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("rabbitmq: %w", core.NewResult(core.NotConnected))
	}
	if err := ch.QueueBind(queue, group, exchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq bind %s: %v: %w", group, err, core.NewResult(core.NetworkError))
	}
	return nil
}

func (t *Transport) Unsubscribe(_ context.Context, group string) error {
	t.mu.Lock()
	ch, queue, exchange := t.subCh, t.queue, t.exchange
	t.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("rabbitmq: %w", core.NewResult(core.NotConnected))
	}
	if err := ch.QueueUnbind(queue, group, exchange, nil); err != nil {
		return fmt.Errorf("rabbitmq unbind %s: %v: %w", group, err, core.NewResult(core.NetworkError))
	}
	return nil
}

func (t *Transport) Publish(ctx context.Context, pkt *core.Packet) error {
	t.mu.Lock()
	ch, exchange := t.pubCh, t.exchange
	t.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("rabbitmq: %w", core.NewResult(core.NotConnected))
	}

	headers := amqp.Table{}
	for k, v := range plugins.Headers(pkt) {
		if k != core.HeaderContentType && k != core.HeaderContentEncoding {
			headers[k] = v
		}
	}
	mode := amqp.Transient
	if pkt.MessageType == core.MessageRegular {
		mode = amqp.Persistent
	}
	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, pkt.Target, false, false, amqp.Publishing{
		ContentType:     pkt.ContentType,
		ContentEncoding: pkt.ContentEncoding,
		DeliveryMode:    mode,
		AppId:           pkt.Sender,
		Headers:         headers,
		Body:            pkt.Payload,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish %s: %v: %w", pkt.Target, err, core.NewResult(core.NetworkError))
	}
	if pkt.MessageType == core.MessageRegular && dc != nil {
		t.mu.Lock()
		t.pending = append(t.pending, confirm{seq: pkt.Seq, dc: dc})
		t.mu.Unlock()
	}
	return nil
}

// Pending counts published regular packets the broker has not confirmed.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settleLocked()
	return len(t.pending)
}

// settleLocked drops confirmed packets from the head of the queue.
func (t *Transport) settleLocked() {
	i := 0
	for ; i < len(t.pending); i++ {
		select {
		case <-t.pending[i].dc.Done():
			t.inbox.Acknowledge(t.pending[i].seq)
			continue
		default:
		}
		break
	}
	t.pending = t.pending[i:]
}

func (t *Transport) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.pubCh == nil {
		t.mu.Unlock()
		return fmt.Errorf("rabbitmq: %w", core.NewResult(core.NotConnected))
	}
	pending := append([]confirm(nil), t.pending...)
	t.mu.Unlock()

	for _, c := range pending {
		acked, err := c.dc.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("rabbitmq flush: %w", err)
		}
		if !acked {
			return fmt.Errorf("rabbitmq flush: seq %d nacked: %w", c.seq, core.NewResult(core.NetworkError))
		}
	}
	t.mu.Lock()
	t.settleLocked()
	t.mu.Unlock()
	return nil
}

func (t *Transport) Disconnect(context.Context) error {
	return t.Close()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	conn, closing := t.conn, t.closing
	t.conn, t.pubCh, t.subCh, t.pending = nil, nil, nil, nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	closing.Store(true)
	return conn.Close()
}
