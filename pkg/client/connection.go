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

// Package client provides Connection, the application-facing handle on one
// broker session. It resolves the protocol from a URL scheme, restores
// subscriptions on reconnect and registers itself for status reporting.
package client

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SeisComP/common-sub009/pkg/codec"
	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/message"
	"github.com/SeisComP/common-sub009/pkg/plugins"
	"github.com/SeisComP/common-sub009/pkg/plugins/builtin"
	"github.com/SeisComP/common-sub009/pkg/protocol"
	"github.com/SeisComP/common-sub009/pkg/status"
	"github.com/cenkalti/backoff/v4"
)

type ConnState int

const (
	StateUnbound ConnState = iota
	StateBound
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Connection struct {
	logger          *slog.Logger
	registry        *plugins.Registry
	pool            *status.Pool
	protoOpts       []protocol.Option
	statusInfo      func() map[string]string
	autoReconnect   bool
	retryInitial    time.Duration
	retryMax        time.Duration
	retryMaxElapsed time.Duration

	// serializes Reconnect, Disconnect and Close
	lifecycle sync.Mutex

	mu             sync.RWMutex
	proto          core.Protocol
	supplied       bool
	scheme         string
	address        string
	clientName     string
	primaryGroup   string
	timeout        time.Duration
	encoding       core.ContentEncoding
	contentType    core.ContentType
	messageType    core.MessageType
	membershipInfo bool
	subscriptions  map[string]struct{}
	wantOnline     bool
	everConnected  bool
	lastErr        core.Result
	lastMsg        string
	released       bool
}

// New creates an unbound connection and registers it with the status pool.
func New(opts ...Option) *Connection {
	c := &Connection{
		logger:          slog.Default(),
		timeout:         core.DefaultTimeout,
		encoding:        core.EncodingIdentity,
		contentType:     core.TypeBinary,
		messageType:     core.MessageRegular,
		subscriptions:   map[string]struct{}{},
		retryInitial:    DefaultRetryInitial,
		retryMax:        DefaultRetryMax,
		retryMaxElapsed: DefaultRetryMaxElapsed,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = builtin.Default()
	}
	if c.pool == nil {
		c.pool = status.DefaultPool()
	}
	c.pool.Register(c)
	return c
}

// NewWithProtocol creates a connection bound to p. A later SetSource
// without a scheme keeps p.
func NewWithProtocol(p core.Protocol, opts ...Option) *Connection {
	c := New(opts...)
	c.mu.Lock()
	c.proto = p
	c.supplied = true
	c.scheme = p.Type()
	c.mu.Unlock()
	return c
}

// SetSource selects the protocol and broker address from a URL of the
// form scheme://host[:port][/path][?query].
func (c *Connection) SetSource(url string) core.Result {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.RLock()
	current, supplied, released := c.proto, c.supplied, c.released
	c.mu.RUnlock()
	if released {
		return c.record(core.NewResult(core.NotConnected), "connection released")
	}
	if current != nil && current.IsConnected() {
		return c.record(core.NewResult(core.AlreadyConnected), "cannot change source while connected")
	}

	fallback := core.DefaultScheme
	if supplied && current != nil {
		fallback = current.Type()
	}
	scheme, address, res := parseSource(url, fallback)
	if !res.OK() {
		return c.record(res, "invalid url "+url)
	}

	next := current
	if current == nil || current.Type() != scheme {
		if !c.registry.Has(scheme) {
			return c.record(core.NewResult(core.InvalidProtocol), "no protocol registered for scheme "+scheme)
		}
		p, err := c.registry.Create(scheme, c.logger)
		if err != nil {
			return c.record(core.NewResult(core.InvalidProtocol), err.Error())
		}
		if pc, ok := p.(*protocol.Client); ok && len(c.protoOpts) > 0 {
			pc.Apply(c.protoOpts...)
		}
		next = p
	}

	c.mu.Lock()
	c.proto = next
	c.supplied = c.supplied && next == current
	c.scheme = scheme
	c.address = address
	c.mu.Unlock()
	if current != nil && next != current {
		current.Close()
	}
	c.logger.Debug("source set", "scheme", scheme, "address", address)
	return core.Success
}

// Connect stores the session parameters and calls Reconnect.
func (c *Connection) Connect(ctx context.Context, clientName, primaryGroup string, timeout time.Duration) core.Result {
	c.mu.Lock()
	c.clientName = clientName
	c.primaryGroup = primaryGroup
	if timeout > 0 {
		c.timeout = timeout
	}
	c.mu.Unlock()
	return c.Reconnect(ctx)
}

// Reconnect opens a fresh session and restores the subscriptions of the
// previous one. It fails without side effects when the primary group is
// not offered by the broker.
func (c *Connection) Reconnect(ctx context.Context) core.Result {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.reconnect(ctx)
}

func (c *Connection) reconnect(ctx context.Context) core.Result {
	c.mu.RLock()
	p := c.proto
	address, name, primary, timeout := c.address, c.clientName, c.primaryGroup, c.timeout
	membership := c.membershipInfo
	groups := sortedKeys(c.subscriptions)
	c.mu.RUnlock()

	if p == nil {
		return c.record(core.NewResult(core.NotConnected), "no protocol bound")
	}
	if p.IsConnected() {
		p.Disconnect(ctx)
	}

	p.SetMembershipInfo(membership)
	if res := p.Connect(ctx, address, timeout, name); !res.OK() {
		return c.recordFrom(p, res)
	}

	if primary != "" {
		if offered := p.Groups(); offered != nil && !contains(offered, primary) {
			p.Disconnect(ctx)
			return c.record(core.NewResult(core.GroupDoesNotExist), "primary group "+primary+" is not offered by the broker")
		}
	}

	kept := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		res := p.Subscribe(ctx, g)
		switch {
		case res.OK(), res.Code() == core.AlreadySubscribed:
			kept[g] = struct{}{}
		case res.Code() == core.GroupDoesNotExist:
			c.logger.Warn("subscription dropped after reconnect", "group", g)
		default:
			c.recordFrom(p, res)
			p.Close()
			return res
		}
	}

	c.mu.Lock()
	c.subscriptions = kept
	c.wantOnline = true
	c.everConnected = true
	c.lastErr = core.Success
	c.lastMsg = ""
	c.mu.Unlock()
	c.logger.Info("connection established",
		"scheme", p.Type(),
		"address", address,
		"client_name", p.ClientName(),
		"primary_group", primary,
		"subscriptions", len(kept),
	)
	return core.Success
}

// reconnectWithBackoff retries Reconnect until it succeeds, a permanent
// failure occurs or ctx ends.
func (c *Connection) reconnectWithBackoff(ctx context.Context) core.Result {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = c.retryMax
	b.MaxElapsedTime = c.retryMaxElapsed

	last := core.NewResult(core.NotConnected)
	op := func() error {
		c.lifecycle.Lock()
		defer c.lifecycle.Unlock()
		if !c.online() {
			return backoff.Permanent(core.NewResult(core.NotConnected))
		}
		if p := c.Protocol(); p != nil && p.IsConnected() {
			last = core.Success
			return nil
		}
		last = c.reconnect(ctx)
		switch last.Code() {
		case core.OK:
			return nil
		case core.InvalidURL, core.InvalidProtocol, core.GroupDoesNotExist:
			return backoff.Permanent(last)
		}
		return last
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("reconnect failed", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return core.ResultOf(ctx.Err())
		}
		return core.ResultOf(err)
	}
	return last
}

func (c *Connection) online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wantOnline && !c.released
}

// SendMessage sends msg to the primary group.
func (c *Connection) SendMessage(ctx context.Context, msg message.Message) core.Result {
	return c.SendMessageTo(ctx, "", msg)
}

// SendMessageTo sends msg to group, or to the primary group when group is
// empty, using the connection's default message type and content headers.
func (c *Connection) SendMessageTo(ctx context.Context, group string, msg message.Message) core.Result {
	c.mu.RLock()
	p := c.proto
	if group == "" {
		group = c.primaryGroup
	}
	mt, enc, ct := c.messageType, c.encoding, c.contentType
	c.mu.RUnlock()
	if p == nil {
		return c.record(core.NewResult(core.NotConnected), "no protocol bound")
	}
	res := p.SendMessage(ctx, group, msg, mt, enc, ct)
	if !res.OK() {
		c.recordFrom(p, res)
	}
	return res
}

// Recv returns the next decoded data message.
func (c *Connection) Recv(ctx context.Context) (message.Message, core.Result) {
	msg, _, res := c.RecvWithPacket(ctx)
	return msg, res
}

// RecvWithPacket is Recv that also returns the packet the message was
// decoded from. Undecodable packets are returned with a nil message.
func (c *Connection) RecvWithPacket(ctx context.Context) (message.Message, *core.Packet, core.Result) {
	for {
		p := c.Protocol()
		if p == nil {
			return nil, nil, c.record(core.NewResult(core.NotConnected), "no protocol bound")
		}
		pkt, res := p.Recv(ctx)
		if !res.OK() {
			if c.autoReconnect && core.IsSessionFatal(res) && ctx.Err() == nil && c.online() {
				c.logger.Warn("session lost, reconnecting", "result", res.String(), "error", p.LastErrorMessage())
				if rres := c.reconnectWithBackoff(ctx); rres.OK() {
					continue
				}
			}
			return nil, nil, c.recordFrom(p, res)
		}
		msg, dres, err := codec.DecodePacket(pkt)
		if !dres.OK() {
			text := dres.String()
			if err != nil {
				text = err.Error()
			}
			c.record(dres, text)
			return nil, pkt, dres
		}
		return msg, pkt, core.Success
	}
}

func (c *Connection) Subscribe(ctx context.Context, group string) core.Result {
	p := c.Protocol()
	if p == nil {
		return c.record(core.NewResult(core.NotConnected), "no protocol bound")
	}
	res := p.Subscribe(ctx, group)
	if !res.OK() {
		return c.recordFrom(p, res)
	}
	c.mu.Lock()
	next := make(map[string]struct{}, len(c.subscriptions)+1)
	for g := range c.subscriptions {
		next[g] = struct{}{}
	}
	next[group] = struct{}{}
	c.subscriptions = next
	c.mu.Unlock()
	return res
}

func (c *Connection) Unsubscribe(ctx context.Context, group string) core.Result {
	p := c.Protocol()
	if p == nil {
		return c.record(core.NewResult(core.NotConnected), "no protocol bound")
	}
	res := p.Unsubscribe(ctx, group)
	if res.OK() || res.Code() == core.NotSubscribed {
		c.mu.Lock()
		next := make(map[string]struct{}, len(c.subscriptions))
		for g := range c.subscriptions {
			if g != group {
				next[g] = struct{}{}
			}
		}
		c.subscriptions = next
		c.mu.Unlock()
	}
	if !res.OK() {
		c.recordFrom(p, res)
	}
	return res
}

// SetSubscriptions subscribes and unsubscribes until the subscription set
// equals groups. It applies every change it can and returns the first
// failure.
func (c *Connection) SetSubscriptions(ctx context.Context, groups []string) core.Result {
	want := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if g != "" {
			want[g] = struct{}{}
		}
	}
	first := core.Success
	keep := func(res core.Result) {
		if first.OK() && !res.OK() {
			first = res
		}
	}
	for _, g := range c.Subscriptions() {
		if _, ok := want[g]; !ok {
			keep(c.Unsubscribe(ctx, g))
		}
	}
	have := c.Subscriptions()
	for _, g := range sortedKeys(want) {
		if !contains(have, g) {
			keep(c.Subscribe(ctx, g))
		}
	}
	return first
}

// Subscriptions returns the groups restored on reconnect.
func (c *Connection) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.subscriptions)
}

// SetTimeout sets the read timeout of the bound protocol. Zero or a
// negative duration blocks forever.
func (c *Connection) SetTimeout(d time.Duration) core.Result {
	p := c.Protocol()
	if p == nil {
		return c.record(core.NewResult(core.NotConnected), "no protocol bound")
	}
	return p.SetTimeout(d)
}

func (c *Connection) FetchInbox(ctx context.Context) core.Result {
	p := c.Protocol()
	if p == nil {
		return c.record(core.NewResult(core.NotConnected), "no protocol bound")
	}
	return p.FetchInbox(ctx)
}

func (c *Connection) SyncOutbox(ctx context.Context) core.Result {
	p := c.Protocol()
	if p == nil {
		return c.record(core.NewResult(core.NotConnected), "no protocol bound")
	}
	res := p.SyncOutbox(ctx)
	if !res.OK() {
		c.recordFrom(p, res)
	}
	return res
}

func (c *Connection) InboxSize() int {
	if p := c.Protocol(); p != nil {
		return p.InboxSize()
	}
	return 0
}

func (c *Connection) OutboxSize() int {
	if p := c.Protocol(); p != nil {
		return p.OutboxSize()
	}
	return 0
}

func (c *Connection) Interrupt() {
	if p := c.Protocol(); p != nil {
		p.Interrupt()
	}
}

func (c *Connection) IsConnected() bool {
	p := c.Protocol()
	return p != nil && p.IsConnected()
}

// Disconnect ends the session gracefully. Automatic reconnects stop until
// the next Connect or Reconnect.
func (c *Connection) Disconnect(ctx context.Context) core.Result {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	p := c.goOffline()
	if p == nil {
		return c.record(core.NewResult(core.NotConnected), "no protocol bound")
	}
	return p.Disconnect(ctx)
}

// Close tears the session down immediately.
func (c *Connection) Close() core.Result {
	p := c.goOffline()
	if p == nil {
		return c.record(core.NewResult(core.NotConnected), "no protocol bound")
	}
	return p.Close()
}

func (c *Connection) goOffline() core.Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wantOnline = false
	return c.proto
}

// Release unregisters from the status pool and closes the protocol. It is
// safe to call more than once.
func (c *Connection) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	c.wantOnline = false
	c.mu.Unlock()

	c.pool.Unregister(c)

	if p := c.Protocol(); p != nil {
		p.Interrupt()
	}
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.mu.Lock()
	p := c.proto
	c.proto = nil
	c.mu.Unlock()
	if p != nil {
		p.Close()
	}
}

// Protocol returns the bound protocol or nil.
func (c *Connection) Protocol() core.Protocol {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proto
}

// StatusInfo returns the extra status report fields.
func (c *Connection) StatusInfo() map[string]string {
	if c.statusInfo == nil {
		return nil
	}
	return c.statusInfo()
}

func (c *Connection) State() ConnState {
	c.mu.RLock()
	p, ever := c.proto, c.everConnected
	c.mu.RUnlock()
	switch {
	case p == nil:
		return StateUnbound
	case p.IsConnected():
		return StateConnected
	case ever:
		return StateDisconnected
	default:
		return StateBound
	}
}

func (c *Connection) Scheme() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scheme
}

func (c *Connection) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

func (c *Connection) ClientName() string {
	if p := c.Protocol(); p != nil && p.ClientName() != "" {
		return p.ClientName()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientName
}

func (c *Connection) PrimaryGroup() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primaryGroup
}

func (c *Connection) LastError() core.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Connection) LastErrorMessage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMsg
}

func (c *Connection) record(res core.Result, msg string) core.Result {
	c.mu.Lock()
	c.lastErr = res
	c.lastMsg = msg
	c.mu.Unlock()
	return res
}

// recordFrom records res with the protocol's own error message.
func (c *Connection) recordFrom(p core.Protocol, res core.Result) core.Result {
	msg := p.LastErrorMessage()
	if msg == "" {
		msg = res.String()
	}
	return c.record(res, msg)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
