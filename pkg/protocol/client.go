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

// Package protocol implements core.Protocol on top of a core.Transport. The
// transport moves packets; Client owns everything else: the inbox, the
// counters, subscriptions, timeouts and locking.
package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SeisComP/common-sub009/internal/logging"
	"github.com/SeisComP/common-sub009/internal/metrics"
	"github.com/SeisComP/common-sub009/pkg/codec"
	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/message"
	"golang.org/x/time/rate"
)

type Client struct {
	transport core.Transport
	scheme    string
	logger    *slog.Logger
	packets   *logging.PacketLogger
	metrics   *metrics.Metrics
	limiter   *rate.Limiter
	inboxCap  int
	maxOutbox int

	mu             sync.RWMutex
	sess           *session
	clientName     string
	schemaVersion  string
	groups         []string
	subscriptions  map[string]struct{}
	params         core.KeyValueStore
	maxPayload     int
	membershipInfo bool
	lastErr        string

	readMu sync.Mutex
	// sendSem is the send lock. It is a channel so that waiting for it
	// honours the caller's context.
	sendSem chan struct{}

	timeout   atomic.Int64
	inflight  atomic.Int64
	interrupt *interrupter
	stats     stats
}

var _ core.Protocol = (*Client)(nil)

// New wraps a transport. The read timeout starts at core.DefaultTimeout.
func New(t core.Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		scheme:    t.Type(),
		logger:    slog.Default(),
		inboxCap:  DefaultInboxCapacity,
		maxOutbox: DefaultMaxOutbox,
		sendSem:   make(chan struct{}, 1),
		interrupt: newInterrupter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.timeout.Store(int64(core.DefaultTimeout))
	return c
}

// Apply changes options after construction. It must be called before
// Connect.
func (c *Client) Apply(opts ...Option) {
	c.sendSem <- struct{}{}
	defer c.unlockSend()
	for _, opt := range opts {
		opt(c)
	}
}

func (c *Client) Type() string { return c.scheme }

// Transport exposes the underlying transport.
func (c *Client) Transport() core.Transport { return c.transport }

func (c *Client) Connect(ctx context.Context, address string, timeout time.Duration, clientName string) core.Result {
	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	dialCtx, stop := c.interruptible(dialCtx)
	defer stop()

	if err := c.lockSend(dialCtx); err != nil {
		return c.lockFailed(err)
	}
	defer c.unlockSend()

	if c.IsConnected() {
		return c.fail(core.AlreadyConnected, "already connected")
	}
	if address == "" {
		return c.fail(core.InvalidURL, "empty address")
	}

	c.mu.RLock()
	membership := c.membershipInfo
	c.mu.RUnlock()

	s := newSession(c, c.inboxCap)
	hs, err := c.transport.Dial(dialCtx, address, core.DialOptions{
		ClientName:     clientName,
		MembershipInfo: membership,
		Timeout:        timeout,
		Logger:         c.logger,
	}, s)
	if err != nil {
		s.finish(nil)
		res := core.ResultOf(err)
		c.setError(err.Error())
		c.logger.Warn("connect failed", "scheme", c.scheme, "address", address, "result", res.String(), "error", err)
		return res
	}

	name := hs.ClientName
	if name == "" {
		name = clientName
	}
	schema := hs.SchemaVersion
	if schema == "" {
		schema = core.DefaultSchemaVersion
	}
	maxPayload := hs.MaxPayloadSize
	if maxPayload <= 0 {
		maxPayload = core.DefaultMaxPayloadSize
	}
	var groups []string
	if hs.Groups != nil {
		groups = append([]string{}, hs.Groups...)
	}

	c.stats.reset()
	if hs.RemoteSequence != nil {
		c.stats.setRemote(*hs.RemoteSequence)
	}

	c.mu.Lock()
	c.sess = s
	c.clientName = name
	c.schemaVersion = schema
	c.groups = groups
	c.subscriptions = map[string]struct{}{}
	c.params = hs.Parameters.Clone()
	c.maxPayload = maxPayload
	c.lastErr = ""
	c.mu.Unlock()

	c.logger.Info("connected",
		"scheme", c.scheme,
		"address", address,
		"client_name", name,
		"schema_version", schema,
		"groups", len(groups),
	)
	return core.Success
}

func (c *Client) Disconnect(ctx context.Context) core.Result {
	if err := c.lockSend(ctx); err != nil {
		return c.lockFailed(err)
	}
	defer c.unlockSend()

	s := c.active()
	if s == nil {
		return core.NewResult(core.NotConnected)
	}
	err := c.transport.Disconnect(ctx)
	s.finish(nil)
	c.reset(s)
	if err != nil {
		c.setError(err.Error())
		c.logger.Warn("disconnect not acknowledged", "scheme", c.scheme, "error", err)
		return core.ResultOf(err)
	}
	c.logger.Info("disconnected", "scheme", c.scheme, "client_name", c.ClientName())
	return core.Success
}

// Close tears the session down without a handshake. It does not wait for
// the send lock so it can abort a blocked SyncOutbox.
func (c *Client) Close() core.Result {
	s := c.active()
	if s == nil {
		return core.NewResult(core.NotConnected)
	}
	if !s.finish(nil) {
		return core.NewResult(core.NotConnected)
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("transport close", "scheme", c.scheme, "error", err)
	}
	c.reset(s)
	return core.Success
}

func (c *Client) IsConnected() bool {
	return c.active() != nil
}

func (c *Client) Subscribe(ctx context.Context, group string) core.Result {
	if group == "" {
		return c.fail(core.MissingGroup, "empty group")
	}
	if c.active() == nil {
		return core.NewResult(core.NotConnected)
	}

	if err := c.lockSend(ctx); err != nil {
		return c.lockFailed(err)
	}
	defer c.unlockSend()

	c.mu.RLock()
	_, subscribed := c.subscriptions[group]
	known := c.groups == nil || contains(c.groups, group)
	c.mu.RUnlock()
	if subscribed {
		return c.fail(core.AlreadySubscribed, "already subscribed to "+group)
	}
	if !known {
		return c.fail(core.GroupDoesNotExist, "group "+group+" does not exist")
	}

	if err := c.transport.Subscribe(ctx, group); err != nil {
		return c.transportError(err)
	}

	c.mu.Lock()
	next := make(map[string]struct{}, len(c.subscriptions)+1)
	for g := range c.subscriptions {
		next[g] = struct{}{}
	}
	next[group] = struct{}{}
	c.subscriptions = next
	c.mu.Unlock()
	c.logger.Debug("subscribed", "scheme", c.scheme, "group", group)
	return core.Success
}

func (c *Client) Unsubscribe(ctx context.Context, group string) core.Result {
	if group == "" {
		return c.fail(core.MissingGroup, "empty group")
	}
	if c.active() == nil {
		return core.NewResult(core.NotConnected)
	}

	if err := c.lockSend(ctx); err != nil {
		return c.lockFailed(err)
	}
	defer c.unlockSend()

	c.mu.RLock()
	_, subscribed := c.subscriptions[group]
	c.mu.RUnlock()
	if !subscribed {
		return c.fail(core.NotSubscribed, "not subscribed to "+group)
	}

	if err := c.transport.Unsubscribe(ctx, group); err != nil {
		return c.transportError(err)
	}

	c.mu.Lock()
	next := make(map[string]struct{}, len(c.subscriptions))
	for g := range c.subscriptions {
		if g != group {
			next[g] = struct{}{}
		}
	}
	c.subscriptions = next
	c.mu.Unlock()
	c.logger.Debug("unsubscribed", "scheme", c.scheme, "group", group)
	return core.Success
}

func (c *Client) SendData(ctx context.Context, target string, payload []byte, mt core.MessageType, enc core.ContentEncoding, ct core.ContentType) core.Result {
	if target == "" {
		return c.fail(core.MissingGroup, "no target group")
	}
	if len(payload) > c.payloadLimit() {
		return c.fail(core.MessageTooLarge, fmt.Sprintf("payload of %d bytes exceeds %d", len(payload), c.payloadLimit()))
	}
	s := c.active()
	if s == nil {
		return core.NewResult(core.NotConnected)
	}
	if !mt.Valid() {
		return c.fail(core.InvalidMessageType, fmt.Sprintf("invalid message type %d", int(mt)))
	}
	if !enc.Valid() {
		return c.fail(core.ContentEncodingUnknown, fmt.Sprintf("invalid content encoding %d", int(enc)))
	}
	if !ct.Valid() {
		return c.fail(core.ContentTypeUnknown, fmt.Sprintf("invalid content type %d", int(ct)))
	}
	if c.OutboxSize() >= c.maxOutbox {
		return c.fail(core.OutboxOverflow, "outbox full")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return core.ResultOf(ctx.Err())
			}
			return c.fail(core.TimeoutError, "send rate wait exceeds deadline")
		}
	}

	if err := c.lockSend(ctx); err != nil {
		return c.lockFailed(err)
	}
	defer c.unlockSend()

	seq := c.stats.localSeq.Load() + 1
	pkt := &core.Packet{
		Type:            core.PacketData,
		Sender:          c.ClientName(),
		Target:          target,
		MessageType:     mt,
		ContentEncoding: enc.String(),
		ContentType:     ct.String(),
		Seq:             seq,
		Payload:         payload,
	}

	storeMax(&c.stats.maxOutbox, uint64(c.inflight.Add(1))+uint64(c.pending()))
	err := c.transport.Publish(ctx, pkt)
	c.inflight.Add(-1)
	c.stats.writeCalls.Add(1)
	if err != nil {
		c.metrics.SendFailed(c.scheme, core.ResultOf(err).String())
		return c.transportError(err)
	}

	c.stats.localSeq.Store(seq)
	c.stats.sentMsgs.Add(1)
	c.stats.sentBytes.Add(uint64(len(payload)))
	c.metrics.PacketSent(c.scheme, len(payload))
	c.packets.Log(pkt, c.scheme, logging.DirectionOut)
	return core.Success
}

func (c *Client) SendMessage(ctx context.Context, target string, msg message.Message, mt core.MessageType, enc core.ContentEncoding, ct core.ContentType) core.Result {
	if target == "" {
		return c.fail(core.MissingGroup, "no target group")
	}
	payload, res, err := codec.Encode(msg, enc, ct, c.SchemaVersion())
	if !res.OK() {
		if err != nil {
			c.setError(err.Error())
		}
		return res
	}
	return c.SendData(ctx, target, payload, mt, enc, ct)
}

func (c *Client) Recv(ctx context.Context) (*core.Packet, core.Result) {
	return c.recv(ctx, false)
}

func (c *Client) RecvPacket(ctx context.Context) (*core.Packet, core.Result) {
	return c.recv(ctx, true)
}

func (c *Client) recv(ctx context.Context, control bool) (*core.Packet, core.Result) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	s := c.current()
	if s == nil {
		return nil, core.NewResult(core.NotConnected)
	}

	interrupted, leave := c.interrupt.enter()
	defer leave()

	var deadline <-chan time.Time
	if d := c.Timeout(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if n := s.dropped.Swap(0); n > 0 {
			c.setError(fmt.Sprintf("inbox overflow, %d packets dropped", n))
			return nil, core.NewResult(core.InboxOverflow)
		}

		var pkt *core.Packet
		select {
		case pkt = <-s.inbox:
		default:
			select {
			case pkt = <-s.inbox:
			case <-s.done:
				select {
				case pkt = <-s.inbox:
				default:
					return nil, s.result()
				}
			case <-ctx.Done():
				return nil, core.ResultOf(ctx.Err())
			case <-interrupted:
				return nil, core.NewResult(core.Cancelled)
			case <-deadline:
				return nil, core.NewResult(core.TimeoutError)
			}
		}

		if pkt = c.consume(pkt); pkt.IsData() || control {
			return pkt, core.Success
		}
	}
}

// TryRecv returns a queued packet without blocking. An empty inbox yields
// InboxUnderflow.
func (c *Client) TryRecv() (*core.Packet, core.Result) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	s := c.current()
	if s == nil {
		return nil, core.NewResult(core.NotConnected)
	}
	for {
		select {
		case pkt := <-s.inbox:
			if pkt = c.consume(pkt); pkt.IsData() {
				return pkt, core.Success
			}
		default:
			if s.finished() {
				return nil, s.result()
			}
			return nil, core.NewResult(core.InboxUnderflow)
		}
	}
}

func (c *Client) consume(pkt *core.Packet) *core.Packet {
	c.stats.buffered.Add(-int64(len(pkt.Payload)))
	c.stats.readCalls.Add(1)
	c.packets.Log(pkt, c.scheme, logging.DirectionIn)
	switch pkt.Type {
	case core.PacketData:
		c.stats.recvMsgs.Add(1)
		c.stats.recvBytes.Add(uint64(len(pkt.Payload)))
		c.metrics.PacketReceived(c.scheme, len(pkt.Payload))
	case core.PacketAck:
		c.stats.setRemote(pkt.Seq)
	default:
		c.logger.Debug("membership", "scheme", c.scheme, "event", pkt.Type.String(), "client", pkt.Sender, "group", pkt.Target)
	}
	return pkt
}

func (c *Client) FetchInbox(ctx context.Context) core.Result {
	s := c.current()
	if s == nil {
		return core.NewResult(core.NotConnected)
	}
	if s.dropped.Load() > 0 {
		return core.NewResult(core.InboxOverflow)
	}

	interrupted, leave := c.interrupt.enter()
	defer leave()

	var deadline <-chan time.Time
	if d := c.Timeout(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		if len(s.inbox) > 0 {
			return core.Success
		}
		select {
		case <-s.arrived:
		case <-s.done:
			if len(s.inbox) > 0 {
				return core.Success
			}
			return s.result()
		case <-ctx.Done():
			return core.ResultOf(ctx.Err())
		case <-interrupted:
			return core.NewResult(core.Cancelled)
		case <-deadline:
			return core.NewResult(core.TimeoutError)
		}
	}
}

// SyncOutbox holds the send lock until the transport confirms every
// regular packet sent so far.
func (c *Client) SyncOutbox(ctx context.Context) core.Result {
	ctx, stop := c.interruptible(ctx)
	defer stop()

	if err := c.lockSend(ctx); err != nil {
		return c.lockFailed(err)
	}
	defer c.unlockSend()

	if c.active() == nil {
		return core.NewResult(core.NotConnected)
	}
	if err := c.transport.Flush(ctx); err != nil {
		return c.transportError(err)
	}
	return core.Success
}

// Interrupt makes every blocking call in progress return Cancelled. When
// none is in progress the next one does.
func (c *Client) Interrupt() {
	c.interrupt.fire()
}

func (c *Client) SetTimeout(d time.Duration) core.Result {
	if d < 0 {
		d = 0
	}
	c.timeout.Store(int64(d))
	return core.Success
}

func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

func (c *Client) SetMembershipInfo(enabled bool) {
	c.mu.Lock()
	c.membershipInfo = enabled
	c.mu.Unlock()
}

func (c *Client) InboxSize() int {
	s := c.current()
	if s == nil {
		return 0
	}
	return len(s.inbox)
}

func (c *Client) OutboxSize() int {
	return int(c.inflight.Load()) + c.pending()
}

func (c *Client) State() core.State {
	return c.stats.snapshot()
}

func (c *Client) ClientName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientName
}

func (c *Client) SchemaVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schemaVersion
}

// Groups returns the groups advertised by the broker, or nil when the
// broker accepts any group name.
func (c *Client) Groups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.groups == nil {
		return nil
	}
	return append([]string{}, c.groups...)
}

func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for g := range c.subscriptions {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (c *Client) ExtendedParameters() core.KeyValueStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params.Clone()
}

func (c *Client) LastErrorMessage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Client) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

func (c *Client) active() *session {
	s := c.current()
	if s == nil || s.finished() {
		return nil
	}
	return s
}

// reset forgets the subscriptions of a session that ended locally. The
// session itself stays current so its inbox can still be drained.
func (c *Client) reset(s *session) {
	c.mu.Lock()
	if c.sess == s {
		c.subscriptions = map[string]struct{}{}
	}
	c.mu.Unlock()
}

// lost is called by a session whose transport failed.
func (c *Client) lost(s *session, err error) {
	c.reset(s)
	if err != nil {
		c.setError(err.Error())
	}
	c.logger.Warn("connection lost", "scheme", c.scheme, "client_name", c.ClientName(), "error", err)
}

func (c *Client) transportError(err error) core.Result {
	res := core.ResultOf(err)
	c.setError(err.Error())
	if core.IsSessionFatal(res) {
		if s := c.active(); s != nil {
			s.Fail(err)
			if err := c.transport.Close(); err != nil {
				c.logger.Debug("transport close", "scheme", c.scheme, "error", err)
			}
		}
	}
	return res
}

func (c *Client) fail(code core.Code, msg string) core.Result {
	c.setError(msg)
	return core.NewResult(code)
}

func (c *Client) setError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

func (c *Client) payloadLimit() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.maxPayload > 0 {
		return c.maxPayload
	}
	return core.DefaultMaxPayloadSize
}

func (c *Client) pending() int {
	if pc, ok := c.transport.(core.PendingCounter); ok {
		return pc.Pending()
	}
	return 0
}

// interruptible derives a context that is also cancelled by Interrupt.
func (c *Client) interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	interrupted, leave := c.interrupt.enter()
	go func() {
		select {
		case <-interrupted:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		leave()
		cancel()
	}
}

// lockSend takes the send lock unless ctx ends first.
func (c *Client) lockSend(ctx context.Context) error {
	select {
	case c.sendSem <- struct{}{}:
		return nil
	default:
	}
	select {
	case c.sendSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) unlockSend() { <-c.sendSem }

func (c *Client) lockFailed(err error) core.Result {
	c.setError("waiting for send lock: " + err.Error())
	return core.ResultOf(err)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
