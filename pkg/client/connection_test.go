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

package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/SeisComP/common-sub009/internal/logging"
	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/hostinfo"
	"github.com/SeisComP/common-sub009/pkg/message"
	"github.com/SeisComP/common-sub009/pkg/plugins"
	"github.com/SeisComP/common-sub009/pkg/plugins/builtin"
	"github.com/SeisComP/common-sub009/pkg/plugins/loopback"
	"github.com/SeisComP/common-sub009/pkg/protocol"
	"github.com/SeisComP/common-sub009/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool() *status.Pool {
	return status.NewPool(
		status.WithoutTimer(),
		status.WithLogger(logging.Nop()),
		status.WithProvider(hostinfo.Static{Hostname: "test", ProgramName: "client.test", PID: 1}),
	)
}

func newConn(t *testing.T, pool *status.Pool, opts ...Option) *Connection {
	t.Helper()
	base := []Option{
		WithLogger(logging.Nop()),
		WithRegistry(builtin.NewRegistry(logging.Nop())),
		WithPool(pool),
	}
	c := New(append(base, opts...)...)
	t.Cleanup(c.Release)
	return c
}

// connectTo binds c to a loopback hub and connects it.
func connectTo(t *testing.T, c *Connection, hub, name, primary string) {
	t.Helper()
	require.True(t, c.SetSource("loopback://"+hub).OK())
	res := c.Connect(context.Background(), name, primary, time.Second)
	require.True(t, res.OK(), "connect %s: %v (%s)", name, res, c.LastErrorMessage())
}

func TestSetSource(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    core.Code
		scheme  string
		address string
	}{
		{name: "loopback", url: "loopback://hub/path", want: core.OK, scheme: "loopback", address: "hub/path"},
		{name: "upper case scheme", url: "LOOPBACK://hub", want: core.OK, scheme: "loopback", address: "hub"},
		{name: "default scheme", url: "localhost:18180/production", want: core.OK, scheme: "scmp", address: "localhost:18180/production"},
		{name: "empty", url: "", want: core.InvalidURL},
		{name: "blank", url: "   ", want: core.InvalidURL},
		{name: "empty scheme", url: "://host", want: core.InvalidURL},
		{name: "empty remainder", url: "loopback://", want: core.InvalidURL},
		{name: "illegal scheme", url: "1mq://host", want: core.InvalidURL},
		{name: "illegal scheme char", url: "sc mp://host", want: core.InvalidURL},
		{name: "unknown scheme", url: "carrier-pigeon://loft", want: core.InvalidProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newConn(t, testPool())
			assert.Equal(t, StateUnbound, c.State())

			res := c.SetSource(tt.url)
			assert.Equal(t, tt.want, res.Code(), c.LastErrorMessage())
			if tt.want != core.OK {
				assert.Equal(t, StateUnbound, c.State())
				assert.Equal(t, tt.want, c.LastError().Code())
				return
			}
			assert.Equal(t, StateBound, c.State())
			assert.Equal(t, tt.scheme, c.Scheme())
			assert.Equal(t, tt.address, c.Address())
			assert.Equal(t, tt.scheme, c.Protocol().Type())
		})
	}
}

func TestSetSourceKeepsSuppliedProtocol(t *testing.T) {
	p := loopback.New(logging.Nop())
	c := NewWithProtocol(p, WithLogger(logging.Nop()), WithPool(testPool()))
	defer c.Release()

	require.True(t, c.SetSource("TestSetSourceKeepsSuppliedProtocol").OK())
	assert.Same(t, p, c.Protocol())
	assert.Equal(t, "loopback", c.Scheme())
	assert.Equal(t, "TestSetSourceKeepsSuppliedProtocol", c.Address())
}

func TestSetSourceWhileConnected(t *testing.T) {
	c := newConn(t, testPool())
	connectTo(t, c, "TestSetSourceWhileConnected", "busy", "")

	assert.Equal(t, core.AlreadyConnected, c.SetSource("loopback://elsewhere").Code())
	assert.Equal(t, "TestSetSourceWhileConnected", c.Address())
}

func TestNeverConnectedTeardown(t *testing.T) {
	unbound := newConn(t, testPool())
	for i := 0; i < 2; i++ {
		assert.Equal(t, core.NotConnected, unbound.Close().Code())
		assert.Equal(t, core.NotConnected, unbound.Disconnect(context.Background()).Code())
	}

	bound := newConn(t, testPool())
	require.True(t, bound.SetSource("loopback://TestNeverConnectedTeardown").OK())
	for i := 0; i < 2; i++ {
		assert.Equal(t, core.NotConnected, bound.Close().Code())
		assert.Equal(t, core.NotConnected, bound.Disconnect(context.Background()).Code())
	}
}

func TestForwardersWithoutProtocol(t *testing.T) {
	c := newConn(t, testPool())
	ctx := context.Background()

	assert.Equal(t, core.NotConnected, c.Subscribe(ctx, "PICK").Code())
	assert.Equal(t, core.NotConnected, c.Unsubscribe(ctx, "PICK").Code())
	assert.Equal(t, core.NotConnected, c.SetTimeout(time.Second).Code())
	assert.Equal(t, core.NotConnected, c.FetchInbox(ctx).Code())
	assert.Equal(t, core.NotConnected, c.SyncOutbox(ctx).Code())
	assert.Equal(t, core.NotConnected, c.SendMessage(ctx, message.NewText("x")).Code())
	assert.Equal(t, core.NotConnected, c.Reconnect(ctx).Code())
	_, res := c.Recv(ctx)
	assert.Equal(t, core.NotConnected, res.Code())
	assert.Zero(t, c.InboxSize())
	assert.Zero(t, c.OutboxSize())
	assert.False(t, c.IsConnected())
	c.Interrupt()
}

func TestSubscriptionInvariants(t *testing.T) {
	c := newConn(t, testPool())
	connectTo(t, c, "TestSubscriptionInvariants", "subs", "PICK")
	ctx := context.Background()

	assert.True(t, c.Subscribe(ctx, "PICK").OK())
	assert.Equal(t, core.AlreadySubscribed, c.Subscribe(ctx, "PICK").Code())
	assert.Equal(t, core.NotSubscribed, c.Unsubscribe(ctx, "EVENT").Code())
	assert.Equal(t, core.MissingGroup, c.Subscribe(ctx, "").Code())
	assert.Equal(t, core.GroupDoesNotExist, c.Subscribe(ctx, "NO_SUCH_GROUP").Code())
	assert.Equal(t, []string{"PICK"}, c.Subscriptions())
	assert.Equal(t, []string{"PICK"}, c.Protocol().Subscriptions())

	assert.True(t, c.Unsubscribe(ctx, "PICK").OK())
	assert.Empty(t, c.Subscriptions())
}

func TestSetSubscriptions(t *testing.T) {
	c := newConn(t, testPool())
	connectTo(t, c, "TestSetSubscriptions", "diff", "")
	ctx := context.Background()

	require.True(t, c.SetSubscriptions(ctx, []string{"PICK", "EVENT"}).OK())
	assert.Equal(t, []string{"EVENT", "PICK"}, c.Subscriptions())

	require.True(t, c.SetSubscriptions(ctx, []string{"EVENT", "LOCATION", ""}).OK())
	assert.Equal(t, []string{"EVENT", "LOCATION"}, c.Subscriptions())
	assert.Equal(t, []string{"EVENT", "LOCATION"}, c.Protocol().Subscriptions())

	res := c.SetSubscriptions(ctx, []string{"EVENT", "NO_SUCH_GROUP", "PICK"})
	assert.Equal(t, core.GroupDoesNotExist, res.Code())
	assert.Equal(t, []string{"EVENT", "PICK"}, c.Subscriptions())
}

func TestReconnectAllOrNothing(t *testing.T) {
	hub := loopback.NewHub("TestReconnectAllOrNothing", loopback.WithGroups([]string{"PICK", core.StatusGroup}))
	loopback.Register(hub)
	defer loopback.Unregister(hub.Name())

	c := newConn(t, testPool())
	require.True(t, c.SetSource("loopback://"+hub.Name()).OK())

	res := c.Connect(context.Background(), "strict", "EVENT", time.Second)
	assert.Equal(t, core.GroupDoesNotExist, res.Code())
	assert.False(t, c.IsConnected())
	assert.Empty(t, hub.Clients())
	assert.Equal(t, core.GroupDoesNotExist, c.LastError().Code())

	res = c.Connect(context.Background(), "strict", "PICK", time.Second)
	require.True(t, res.OK(), "%v", res)
	assert.Equal(t, []string{"strict"}, hub.Clients())
	assert.Equal(t, StateConnected, c.State())
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	hub := loopback.Lookup("TestReconnectRestoresSubscriptions")
	c := newConn(t, testPool())
	connectTo(t, c, hub.Name(), "restore", "PICK")
	ctx := context.Background()

	require.True(t, c.Subscribe(ctx, "PICK").OK())
	require.True(t, c.Subscribe(ctx, "EVENT").OK())

	require.True(t, c.Reconnect(ctx).OK())
	assert.Equal(t, []string{"EVENT", "PICK"}, c.Subscriptions())
	assert.Equal(t, []string{"EVENT", "PICK"}, c.Protocol().Subscriptions())
	assert.Equal(t, []string{"restore"}, hub.Members("PICK"))
	assert.Equal(t, []string{"restore"}, hub.Members("EVENT"))
}

func TestDuplicateClientName(t *testing.T) {
	first := newConn(t, testPool())
	connectTo(t, first, "TestDuplicateClientName", "twin", "")

	second := newConn(t, testPool())
	require.True(t, second.SetSource("loopback://TestDuplicateClientName").OK())
	res := second.Connect(context.Background(), "twin", "", time.Second)
	assert.Equal(t, core.DuplicateUsername, res.Code())
	assert.False(t, second.IsConnected())
	assert.NotEmpty(t, second.LastErrorMessage())
}

func TestThousandMessagesInOrder(t *testing.T) {
	const n = 1000
	pool := testPool()
	hub := "TestThousandMessagesInOrder"

	receiver := newConn(t, pool)
	connectTo(t, receiver, hub, "receiver", "PICK")
	require.True(t, receiver.Subscribe(context.Background(), "PICK").OK())
	require.True(t, receiver.SetTimeout(5*time.Second).OK())

	sender := newConn(t, pool, WithContentType(core.TypeJSON), WithContentEncoding(core.EncodingLZ4))
	connectTo(t, sender, hub, "sender", "PICK")

	var wg sync.WaitGroup
	sendErr := make(chan core.Result, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if res := sender.SendMessage(context.Background(), message.NewText(fmt.Sprintf("msg-%04d", i))); !res.OK() {
				sendErr <- res
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		msg, pkt, res := receiver.RecvWithPacket(context.Background())
		require.True(t, res.OK(), "message %d: %v (%s)", i, res, receiver.LastErrorMessage())
		txt, ok := msg.(*message.Text)
		require.True(t, ok, "message %d has class %s", i, msg.ClassName())
		require.Equal(t, fmt.Sprintf("msg-%04d", i), txt.Content)
		require.Equal(t, "sender", pkt.Sender)
		require.Equal(t, "text/json", pkt.ContentType)
	}
	wg.Wait()
	select {
	case res := <-sendErr:
		t.Fatalf("send failed: %v", res)
	default:
	}

	assert.Zero(t, receiver.InboxSize())
	assert.EqualValues(t, n, receiver.Protocol().State().ReceivedMessages)
	assert.EqualValues(t, n, sender.Protocol().State().SentMessages)
	assert.True(t, sender.SyncOutbox(context.Background()).OK())
}

func TestRecvDecodeFailure(t *testing.T) {
	hub := "TestRecvDecodeFailure"
	receiver := newConn(t, testPool())
	connectTo(t, receiver, hub, "receiver", "PICK")
	require.True(t, receiver.Subscribe(context.Background(), "PICK").OK())

	sender := newConn(t, testPool())
	connectTo(t, sender, hub, "sender", "PICK")
	res := sender.Protocol().SendData(context.Background(), "PICK", []byte("not a binary envelope"), core.MessageRegular, core.EncodingIdentity, core.TypeBinary)
	require.True(t, res.OK())

	msg, pkt, res := receiver.RecvWithPacket(context.Background())
	assert.Nil(t, msg)
	require.NotNil(t, pkt)
	assert.Equal(t, core.DecodingError, res.Code())
	assert.True(t, receiver.IsConnected())
}

func TestAutoReconnectAfterPeerClose(t *testing.T) {
	hub := loopback.Lookup("TestAutoReconnectAfterPeerClose")
	conn := newConn(t, testPool(), WithAutoReconnect(true), WithRetry(5*time.Millisecond, 20*time.Millisecond, 2*time.Second))
	connectTo(t, conn, hub.Name(), "phoenix", "PICK")
	require.True(t, conn.Subscribe(context.Background(), "PICK").OK())
	require.True(t, conn.SetTimeout(5*time.Second).OK())

	sender := newConn(t, testPool())
	connectTo(t, sender, hub.Name(), "sender", "PICK")

	type result struct {
		msg message.Message
		res core.Result
	}
	got := make(chan result, 1)
	go func() {
		msg, res := conn.Recv(context.Background())
		got <- result{msg, res}
	}()

	require.True(t, hub.Kick("phoenix"))
	require.Eventually(t, func() bool {
		members := hub.Members("PICK")
		return len(members) == 1 && members[0] == "phoenix"
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, sender.SendMessage(context.Background(), message.NewText("after")).OK())
	select {
	case r := <-got:
		require.True(t, r.res.OK(), "%v", r.res)
		assert.Equal(t, "after", r.msg.(*message.Text).Content)
	case <-time.After(3 * time.Second):
		t.Fatal("recv did not resume after reconnect")
	}
	assert.True(t, conn.IsConnected())
	assert.Equal(t, []string{"PICK"}, conn.Subscriptions())
}

func TestDisconnectStopsAutoReconnect(t *testing.T) {
	conn := newConn(t, testPool(), WithAutoReconnect(true), WithRetry(5*time.Millisecond, 20*time.Millisecond, time.Second))
	connectTo(t, conn, "TestDisconnectStopsAutoReconnect", "quitter", "")

	require.True(t, conn.Disconnect(context.Background()).OK())
	assert.Equal(t, StateDisconnected, conn.State())

	_, res := conn.Recv(context.Background())
	assert.Equal(t, core.NotConnected, res.Code())
	assert.False(t, conn.IsConnected())
	assert.Equal(t, core.NotConnected, conn.Disconnect(context.Background()).Code())
}

func TestInterruptUnblocksRecv(t *testing.T) {
	c := newConn(t, testPool())
	connectTo(t, c, "TestInterruptUnblocksRecv", "waiter", "")
	require.True(t, c.SetTimeout(0).OK())

	done := make(chan core.Result, 1)
	go func() {
		_, res := c.Recv(context.Background())
		done <- res
	}()
	time.Sleep(20 * time.Millisecond)
	c.Interrupt()

	select {
	case res := <-done:
		assert.Equal(t, core.Cancelled, res.Code())
	case <-time.After(2 * time.Second):
		t.Fatal("recv not interrupted")
	}
}

// stallTransport never answers: Flush, and Dial when dial is set, block
// until their context ends.
type stallTransport struct {
	core.Transport
	dial bool
}

func (s *stallTransport) Type() string { return "stall" }

func (s *stallTransport) Dial(ctx context.Context, _ string, opts core.DialOptions, _ core.Inbox) (*core.Handshake, error) {
	if s.dial {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &core.Handshake{ClientName: opts.ClientName}, nil
}

func (s *stallTransport) Flush(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stallTransport) Disconnect(context.Context) error { return nil }
func (s *stallTransport) Close() error                     { return nil }

func stallRegistry(dial bool) *plugins.Registry {
	r := builtin.NewRegistry(logging.Nop())
	r.Register("stall", func(logger *slog.Logger) core.Protocol {
		return protocol.New(&stallTransport{dial: dial}, protocol.WithLogger(logger))
	})
	return r
}

func TestInterruptUnblocksConnect(t *testing.T) {
	c := newConn(t, testPool(), WithRegistry(stallRegistry(true)))
	require.True(t, c.SetSource("stall://broker").OK())

	done := make(chan core.Result, 1)
	go func() { done <- c.Connect(context.Background(), "waiter", "", 5*time.Second) }()
	time.Sleep(20 * time.Millisecond)
	c.Interrupt()

	select {
	case res := <-done:
		assert.Equal(t, core.Cancelled, res.Code())
	case <-time.After(2 * time.Second):
		t.Fatal("connect not interrupted")
	}
	assert.False(t, c.IsConnected())
	assert.Equal(t, core.Cancelled, c.LastError().Code())
}

func TestInterruptUnblocksSyncOutbox(t *testing.T) {
	c := newConn(t, testPool(), WithRegistry(stallRegistry(false)))
	require.True(t, c.SetSource("stall://broker").OK())
	require.True(t, c.Connect(context.Background(), "syncer", "", time.Second).OK(), c.LastErrorMessage())

	done := make(chan core.Result, 1)
	go func() { done <- c.SyncOutbox(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	c.Interrupt()

	select {
	case res := <-done:
		assert.Equal(t, core.Cancelled, res.Code())
	case <-time.After(2 * time.Second):
		t.Fatal("sync not interrupted")
	}
	assert.True(t, c.IsConnected())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, core.TimeoutError, c.SyncOutbox(ctx).Code())
}

func TestReleaseUnblocksConnect(t *testing.T) {
	pool := testPool()
	c := New(WithLogger(logging.Nop()), WithRegistry(stallRegistry(true)), WithPool(pool))
	require.True(t, c.SetSource("stall://broker").OK())

	done := make(chan core.Result, 1)
	go func() { done <- c.Connect(context.Background(), "leaver", "", 5*time.Second) }()
	time.Sleep(20 * time.Millisecond)

	released := make(chan struct{})
	go func() {
		c.Release()
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("release blocked behind connect")
	}
	assert.Equal(t, core.Cancelled, (<-done).Code())
	assert.Equal(t, 0, pool.Len())
}

func TestReleaseUnregisters(t *testing.T) {
	pool := testPool()
	c := New(WithLogger(logging.Nop()), WithRegistry(builtin.NewRegistry(logging.Nop())), WithPool(pool))
	connectTo(t, c, "TestReleaseUnregisters", "leaver", "")
	assert.Equal(t, 1, pool.Len())

	c.Release()
	assert.Equal(t, 0, pool.Len())
	assert.Equal(t, StateUnbound, c.State())
	assert.Empty(t, loopback.Lookup("TestReleaseUnregisters").Clients())
	assert.Equal(t, core.NotConnected, c.Close().Code())

	c.Release()
	assert.Equal(t, 0, pool.Len())
}

func TestHeartbeatOverLoopback(t *testing.T) {
	pool := testPool()
	hub := "TestHeartbeatOverLoopback"

	listener := newConn(t, pool, WithStatusInfo(func() map[string]string {
		return map[string]string{"role": "listener"}
	}))
	connectTo(t, listener, hub, "listener", "")
	require.True(t, listener.Subscribe(context.Background(), core.StatusGroup).OK())

	worker := newConn(t, pool)
	connectTo(t, worker, hub, "worker", "")
	idle := newConn(t, pool)
	require.True(t, idle.SetSource("loopback://"+hub).OK())

	assert.Equal(t, 2, pool.Tick(context.Background()))

	seen := map[string]status.Report{}
	for i := 0; i < 2; i++ {
		msg, pkt, res := listener.RecvWithPacket(context.Background())
		require.True(t, res.OK(), "%v", res)
		assert.Equal(t, core.MessageStatus, pkt.MessageType)
		assert.Equal(t, "text/plain", pkt.ContentType)
		report, err := status.Parse(msg.(*message.Text).Content)
		require.NoError(t, err)
		seen[report.ClientName] = report
	}
	require.Contains(t, seen, "listener")
	require.Contains(t, seen, "worker")
	assert.Equal(t, "listener", seen["listener"].Extra["role"])
	assert.Equal(t, "test", seen["worker"].Hostname)
	assert.NotNil(t, seen["worker"].Traffic)
}
