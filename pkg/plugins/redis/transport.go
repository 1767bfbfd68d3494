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

// Package redis carries packets over Redis pub/sub. Each group is a
// channel and every payload is a wire frame. Client names are claimed
// through a presence key that expires unless refreshed.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/plugins"
	"github.com/SeisComP/common-sub009/pkg/protocol"
	"github.com/SeisComP/common-sub009/pkg/wire"
	goredis "github.com/redis/go-redis/v9"
)

const (
	Scheme      = "redis"
	defaultPort = "6379"

	// GroupsKey optionally lists the groups the broker accepts.
	GroupsKey = "scmp:groups"

	presenceTTL = 30 * time.Second
)

func presenceKey(name string) string { return "scmp:client:" + name }

type link struct {
	client  *goredis.Client
	pubsub  *goredis.PubSub
	addr    plugins.Address
	name    string
	inbox   core.Inbox
	closing atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
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

// options builds the client options. The path prefixes channel names and
// the "db" query parameter selects the database.
func options(addr plugins.Address, timeout time.Duration) (*goredis.Options, error) {
	o := &goredis.Options{
		Addr:        addr.HostPort(),
		Username:    addr.Username,
		Password:    addr.Password,
		DialTimeout: timeout,
	}
	if db := addr.Query.Get("db"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("redis db %q: %w", db, core.NewResult(core.InvalidURL))
		}
		o.DB = n
	}
	return o, nil
}

func (t *Transport) Dial(ctx context.Context, address string, opts core.DialOptions, inbox core.Inbox) (*core.Handshake, error) {
	addr, err := plugins.ParseAddress(address, defaultPort)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = core.DefaultTimeout
	}
	o, err := options(addr, timeout)
	if err != nil {
		return nil, err
	}
	name := opts.ClientName
	if name == "" {
		name = core.GenerateClientName()
	}

	client := goredis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, dialError(ctx, err)
	}
	claimed, err := client.SetNX(ctx, presenceKey(name), opts.MembershipInfo, presenceTTL).Result()
	if err != nil {
		client.Close()
		return nil, dialError(ctx, err)
	}
	if !claimed {
		client.Close()
		return nil, fmt.Errorf("redis client name %s: %w", name, core.NewResult(core.DuplicateUsername))
	}
	groups, err := client.SMembers(ctx, GroupsKey).Result()
	if err != nil {
		client.Del(context.Background(), presenceKey(name))
		client.Close()
		return nil, dialError(ctx, err)
	}
	if len(groups) == 0 {
		groups = nil
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &link{
		client: client,
		pubsub: client.Subscribe(lctx),
		addr:   addr,
		name:   name,
		inbox:  inbox,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.readLoop(lctx, l)
	go t.refresh(lctx, l)

	t.mu.Lock()
	t.link = l
	t.mu.Unlock()
	t.logger.Info("redis connected", "broker", addr.HostPort(), "client_name", name, "groups", len(groups))

	return &core.Handshake{ClientName: name, Groups: groups}, nil
}

func dialError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("redis dial: %w", ctx.Err())
	}
	return fmt.Errorf("redis dial: %v: %w", err, core.NewResult(core.NetworkError))
}

func (t *Transport) readLoop(ctx context.Context, l *link) {
	defer close(l.done)
	for {
		msg, err := l.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || l.closing.Load() {
				return
			}
			code := core.NetworkError
			if errors.Is(err, io.EOF) || errors.Is(err, goredis.ErrClosed) {
				code = core.ConnectionClosedByPeer
			}
			l.fail(fmt.Errorf("redis receive: %v: %w", err, core.NewResult(code)))
			return
		}
		pkt, err := wire.Decode([]byte(msg.Payload))
		if err != nil {
			t.logger.Warn("redis dropped malformed frame", "channel", msg.Channel, "error", err)
			continue
		}
		l.inbox.Deliver(pkt)
	}
}

// refresh keeps the presence key alive for the lifetime of the link.
func (t *Transport) refresh(ctx context.Context, l *link) {
	ticker := time.NewTicker(presenceTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.client.Expire(ctx, presenceKey(l.name), presenceTTL).Err(); err != nil && ctx.Err() == nil {
				t.logger.Warn("redis presence refresh failed", "client_name", l.name, "error", err)
			}
		}
	}
}

func (l *link) fail(err error) {
	if l.closing.CompareAndSwap(false, true) {
		l.inbox.Fail(err)
	}
}

func (t *Transport) current() (*link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.link == nil {
		return nil, fmt.Errorf("redis: %w", core.NewResult(core.NotConnected))
	}
	return t.link, nil
}

func (t *Transport) Subscribe(ctx context.Context, group string) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	if err := l.pubsub.Subscribe(ctx, l.addr.Topic(group, ".")); err != nil {
		return fmt.Errorf("redis subscribe %s: %v: %w", group, err, core.NewResult(core.NetworkError))
	}
	return nil
}

func (t *Transport) Unsubscribe(ctx context.Context, group string) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	if err := l.pubsub.Unsubscribe(ctx, l.addr.Topic(group, ".")); err != nil {
		return fmt.Errorf("redis unsubscribe %s: %v: %w", group, err, core.NewResult(core.NetworkError))
	}
	return nil
}

func (t *Transport) Publish(ctx context.Context, pkt *core.Packet) error {
	l, err := t.current()
	if err != nil {
		return err
	}
	if err := l.client.Publish(ctx, l.addr.Topic(pkt.Target, "."), wire.Encode(pkt)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %v: %w", pkt.Target, err, core.NewResult(core.NetworkError))
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

// Disconnect releases the client name before closing.
func (t *Transport) Disconnect(ctx context.Context) error {
	l, err := t.current()
	if err != nil {
		return nil
	}
	l.closing.Store(true)
	if err := l.client.Del(ctx, presenceKey(l.name)).Err(); err != nil {
		t.logger.Warn("redis presence release failed", "client_name", l.name, "error", err)
	}
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
	l.closing.Store(true)
	l.cancel()
	l.pubsub.Close()
	<-l.done
	return l.client.Close()
}
