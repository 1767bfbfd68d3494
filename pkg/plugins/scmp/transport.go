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

// Package scmp speaks the native broker protocol over a websocket: JSON
// control frames for the session and wire frames for data packets.
package scmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/protocol"
	"github.com/SeisComP/common-sub009/pkg/wire"
	"github.com/gorilla/websocket"
)

const (
	Scheme       = "scmp"
	SecureScheme = "scmps"

	defaultPath = "/production"
)

type Transport struct {
	secure bool
	dialer *websocket.Dialer
	logger *slog.Logger

	mu   sync.Mutex
	link *link
}

// link is the state of one websocket session.
type link struct {
	conn    *websocket.Conn
	inbox   core.Inbox
	logger  *slog.Logger
	writeMu sync.Mutex
	done    chan struct{}
	closing atomic.Bool
	nextID  atomic.Uint64

	mu          sync.Mutex
	replies     map[uint64]chan *Control
	outstanding []uint64
	acked       chan struct{}
}

func NewTransport(secure bool, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		secure: secure,
		dialer: &websocket.Dialer{
			HandshakeTimeout: core.DefaultTimeout,
			ReadBufferSize:   64 << 10,
			WriteBufferSize:  64 << 10,
		},
		logger: logger,
	}
}

// New returns a plain scmp protocol.
func New(logger *slog.Logger) core.Protocol {
	return protocol.New(NewTransport(false, logger), protocol.WithLogger(logger))
}

// NewSecure returns an scmps protocol dialing over TLS.
func NewSecure(logger *slog.Logger) core.Protocol {
	return protocol.New(NewTransport(true, logger), protocol.WithLogger(logger))
}

func (t *Transport) Type() string {
	if t.secure {
		return SecureScheme
	}
	return Scheme
}

// Endpoint converts a connection address into the websocket URL.
func (t *Transport) Endpoint(address string) (string, error) {
	scheme := "ws"
	if t.secure {
		scheme = "wss"
	}
	u, err := url.Parse(scheme + "://" + strings.TrimPrefix(address, "//"))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("scmp address %q: %w", address, core.NewResult(core.InvalidURL))
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultPath
	}
	return u.String(), nil
}

func (t *Transport) Dial(ctx context.Context, address string, opts core.DialOptions, inbox core.Inbox) (*core.Handshake, error) {
	endpoint, err := t.Endpoint(address)
	if err != nil {
		return nil, err
	}
	logger := t.logger
	if opts.Logger != nil {
		logger = opts.Logger
	}

	conn, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scmp dial %s: %w", endpoint, ctx.Err())
		}
		return nil, fmt.Errorf("scmp dial %s: %v: %w", endpoint, err, core.NewResult(core.NetworkError))
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}
	hello := Control{Type: FrameConnect, Client: opts.ClientName, Membership: opts.MembershipInfo}
	if err := conn.WriteJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("scmp connect: %v: %w", err, core.NewResult(core.NetworkError))
	}
	var reply Control
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scmp connect: %w", ctx.Err())
		}
		return nil, fmt.Errorf("scmp connect: %v: %w", err, core.NewResult(core.NetworkError))
	}
	if reply.Type != FrameConnected {
		conn.Close()
		if err := reply.result(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("scmp connect: unexpected %q frame: %w", reply.Type, core.NewResult(core.NetworkError))
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	l := &link{
		conn:    conn,
		inbox:   inbox,
		logger:  logger,
		done:    make(chan struct{}),
		replies: make(map[uint64]chan *Control),
		acked:   make(chan struct{}, 1),
	}
	t.mu.Lock()
	t.link = l
	t.mu.Unlock()
	go l.readLoop()

	logger.Debug("scmp session established", "endpoint", endpoint, "client", reply.Client)
	return &core.Handshake{
		ClientName:     reply.Client,
		SchemaVersion:  reply.Schema,
		Groups:         reply.Groups,
		Parameters:     core.KeyValueStore(reply.Params),
		MaxPayloadSize: reply.MaxPayload,
		RemoteSequence: reply.Seq,
	}, nil
}

func (t *Transport) current() (*link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.link == nil {
		return nil, fmt.Errorf("scmp: %w", core.NewResult(core.NotConnected))
	}
	return t.link, nil
}

func (t *Transport) Subscribe(ctx context.Context, group string) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	_, err = l.request(ctx, &Control{Type: FrameSubscribe, Group: group})
	return err
}

func (t *Transport) Unsubscribe(ctx context.Context, group string) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	_, err = l.request(ctx, &Control{Type: FrameUnsubscribe, Group: group})
	return err
}

func (t *Transport) Publish(ctx context.Context, pkt *core.Packet) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	if pkt.MessageType == core.MessageRegular {
		l.mu.Lock()
		l.outstanding = append(l.outstanding, pkt.Seq)
		l.mu.Unlock()
	}
	if err := l.write(ctx, websocket.BinaryMessage, wire.Encode(pkt)); err != nil {
		l.forget(pkt.Seq)
		return fmt.Errorf("scmp publish: %v: %w", err, core.NewResult(core.NetworkError))
	}
	return nil
}

func (t *Transport) Pending() int {
	t.mu.Lock()
	l := t.link
	t.mu.Unlock()
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outstanding)
}

// Flush waits for the broker to acknowledge every regular packet.
func (t *Transport) Flush(ctx context.Context) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	for {
		l.mu.Lock()
		n := len(l.outstanding)
		l.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-l.acked:
		case <-l.done:
			return fmt.Errorf("scmp flush: %d packets unacknowledged: %w", n, core.NewResult(core.NotConnected))
		case <-ctx.Done():
			return fmt.Errorf("scmp flush: %w", ctx.Err())
		}
	}
}

func (t *Transport) Disconnect(ctx context.Context) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	l.closing.Store(true)
	_, reqErr := l.request(ctx, &Control{Type: FrameDisconnect})
	l.writeMu.Lock()
	l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	l.writeMu.Unlock()
	t.Close()
	if errors.Is(reqErr, core.NewResult(core.ConnectionClosedByPeer)) {
		return nil
	}
	return reqErr
}

func (t *Transport) Close() error {
	t.mu.Lock()
	l := t.link
	t.link = nil
	t.mu.Unlock()
	if l == nil {
		return nil
	}
	l.closing.Store(true)
	return l.conn.Close()
}

func (l *link) write(ctx context.Context, kind int, data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		l.conn.SetWriteDeadline(deadline)
	} else {
		l.conn.SetWriteDeadline(time.Time{})
	}
	return l.conn.WriteMessage(kind, data)
}

// request sends a control frame and waits for the reply with the same id.
func (l *link) request(ctx context.Context, ctl *Control) (*Control, error) {
	ctl.ID = l.nextID.Add(1)
	ch := make(chan *Control, 1)
	l.mu.Lock()
	l.replies[ctl.ID] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.replies, ctl.ID)
		l.mu.Unlock()
	}()

	data, err := json.Marshal(ctl)
	if err != nil {
		return nil, fmt.Errorf("scmp %s: %w", ctl.Type, err)
	}
	if err := l.write(ctx, websocket.TextMessage, data); err != nil {
		return nil, fmt.Errorf("scmp %s: %v: %w", ctl.Type, err, core.NewResult(core.NetworkError))
	}
	select {
	case reply := <-ch:
		return reply, reply.result()
	case <-l.done:
		return nil, fmt.Errorf("scmp %s: %w", ctl.Type, core.NewResult(core.ConnectionClosedByPeer))
	case <-ctx.Done():
		return nil, fmt.Errorf("scmp %s: %w", ctl.Type, ctx.Err())
	}
}

func (l *link) readLoop() {
	defer close(l.done)
	for {
		kind, data, err := l.conn.ReadMessage()
		if err != nil {
			l.lost(err)
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			pkt, err := wire.Decode(data)
			if err != nil {
				l.logger.Warn("scmp dropped malformed frame", "error", err)
				continue
			}
			l.inbox.Deliver(pkt)
		case websocket.TextMessage:
			var ctl Control
			if err := json.Unmarshal(data, &ctl); err != nil {
				l.logger.Warn("scmp dropped malformed control frame", "error", err)
				continue
			}
			if fatal := l.dispatch(&ctl); fatal != nil {
				l.closing.Store(true)
				l.conn.Close()
				l.inbox.Fail(fatal)
				return
			}
		}
	}
}

func (l *link) dispatch(ctl *Control) error {
	switch ctl.Type {
	case FrameReply:
		l.mu.Lock()
		ch, ok := l.replies[ctl.ID]
		l.mu.Unlock()
		if ok {
			ch <- ctl
		}
	case FrameAck:
		if ctl.Seq != nil {
			l.ack(*ctl.Seq)
		}
	case FrameError:
		if ctl.ID != 0 {
			ctl.Type = FrameReply
			return l.dispatch(ctl)
		}
		if err := ctl.result(); err != nil {
			return err
		}
	default:
		if pkt, ok := membershipPacket(ctl); ok {
			l.inbox.Deliver(pkt)
		}
	}
	return nil
}

// ack drops every outstanding sequence number up to and including seq.
func (l *link) ack(seq uint64) {
	l.mu.Lock()
	i := 0
	for i < len(l.outstanding) && l.outstanding[i] <= seq {
		i++
	}
	l.outstanding = l.outstanding[i:]
	l.mu.Unlock()
	l.inbox.Acknowledge(seq)
	select {
	case l.acked <- struct{}{}:
	default:
	}
}

func (l *link) forget(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.outstanding {
		if s == seq {
			l.outstanding = append(l.outstanding[:i], l.outstanding[i+1:]...)
			return
		}
	}
}

func (l *link) lost(err error) {
	if l.closing.Load() {
		return
	}
	code := core.NetworkError
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = core.ConnectionClosedByPeer
	}
	l.logger.Debug("scmp read failed", "error", err)
	l.inbox.Fail(fmt.Errorf("scmp read: %v: %w", err, core.NewResult(code)))
}
