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

// Package status broadcasts state-of-health reports for every registered
// connection from a single background timer.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/SeisComP/common-sub009/internal/metrics"
	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/hostinfo"
)

// Member is a connection known to the pool. Protocol returns nil while
// the member has no bound protocol.
type Member interface {
	Protocol() core.Protocol
	// StatusInfo returns extra report fields. It may return nil.
	StatusInfo() map[string]string
}

type Pool struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	provider    hostinfo.Provider
	interval    time.Duration
	sendTimeout time.Duration
	timer       bool
	traffic     bool
	now         func() time.Time

	mu      sync.Mutex
	members []Member
	stop    chan struct{}

	// sending is read-held by a tick while it sends outside mu. Unregister
	// takes it briefly to wait for a tick that may still hold the member.
	sending sync.RWMutex
}

func NewPool(opts ...Option) *Pool {
	p := &Pool{
		logger:      slog.Default(),
		interval:    DefaultInterval,
		sendTimeout: DefaultSendTimeout,
		timer:       true,
		traffic:     true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// DefaultPool returns the process-wide pool. It samples the running
// process for host figures.
func DefaultPool() *Pool {
	defaultOnce.Do(func() {
		var opts []Option
		if c, err := hostinfo.NewCollector(); err == nil {
			opts = append(opts, WithProvider(c))
		} else {
			slog.Default().Warn("host telemetry unavailable", "error", err)
		}
		defaultPool = NewPool(opts...)
	})
	return defaultPool
}

// Register adds m and starts the timer with the first member.
func (p *Pool) Register(m Member) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.members {
		if existing == m {
			return
		}
	}
	p.members = append(p.members, m)
	p.metrics.SetRegistered(len(p.members))
	if p.timer && p.stop == nil {
		p.stop = make(chan struct{})
		go p.run(p.stop)
		p.logger.Debug("status timer started", "interval", p.interval)
	}
}

// Unregister removes m and stops the timer with the last member. Once it
// returns, no tick reaches m. A tick already sending to m is bounded by the
// send timeout.
func (p *Pool) Unregister(m Member) {
	p.remove(m)
	p.sending.Lock()
	p.sending.Unlock()
}

func (p *Pool) remove(m Member) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.members {
		if existing == m {
			p.members = append(p.members[:i], p.members[i+1:]...)
			break
		}
	}
	p.metrics.SetRegistered(len(p.members))
	if len(p.members) == 0 && p.stop != nil {
		close(p.stop)
		p.stop = nil
		p.logger.Debug("status timer stopped")
	}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

// Running reports whether the background timer is active.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *Pool) run(stop <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.Tick(context.Background())
		}
	}
}

// Tick sends one report per connected member and returns the number of
// successful sends. Reports are built under the pool lock and sent after
// it is released.
func (p *Pool) Tick(ctx context.Context) int {
	start := time.Now()
	defer func() { p.metrics.ObserveTick(time.Since(start).Seconds()) }()

	var host hostinfo.Snapshot
	if p.provider != nil {
		var err error
		host, err = p.provider.Snapshot(ctx)
		if err != nil {
			p.logger.Warn("host snapshot incomplete", "error", err)
		}
	}
	now := p.now()

	p.sending.RLock()
	defer p.sending.RUnlock()

	type outgoing struct {
		proto   core.Protocol
		payload []byte
	}
	p.mu.Lock()
	batch := make([]outgoing, 0, len(p.members))
	for _, m := range p.members {
		proto := m.Protocol()
		if proto == nil || !proto.IsConnected() {
			continue
		}
		batch = append(batch, outgoing{proto, []byte(p.report(host, now, proto, m.StatusInfo()).Encode())})
	}
	p.mu.Unlock()

	sent := 0
	for _, o := range batch {
		proto := o.proto
		sctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
		res := proto.SendData(sctx, core.StatusGroup, o.payload, core.MessageStatus, core.EncodingIdentity, core.TypeText)
		cancel()

		switch {
		case res.OK():
			sent++
			p.metrics.Heartbeat("sent")
		case res.Code() == core.NotConnected:
			p.metrics.Heartbeat("skipped")
		default:
			p.metrics.Heartbeat("failed")
			p.logger.Warn("status report not sent",
				"client_name", proto.ClientName(),
				"result", res.String(),
				"error", proto.LastErrorMessage(),
			)
		}
	}
	return sent
}

func (p *Pool) report(host hostinfo.Snapshot, now time.Time, proto core.Protocol, extra map[string]string) Report {
	r := Report{
		Hostname:          host.Hostname,
		ProgramName:       host.ProgramName,
		PID:               host.PID,
		TotalMemory:       host.TotalMemory,
		Time:              now,
		ClientName:        proto.ClientName(),
		CPUUsage:          host.CPUUsage,
		ClientMemoryUsage: host.ClientMemoryUsage,
		MessageQueueSize:  proto.InboxSize(),
		ObjectCount:       host.ObjectCount,
		Uptime:            host.Uptime,
		Extra:             extra,
	}
	if p.traffic {
		st := proto.State()
		r.Traffic = &Traffic{
			SentMessages:     st.SentMessages,
			SentBytes:        st.SentBytes,
			ReceivedMessages: st.ReceivedMessages,
			ReceivedBytes:    st.ReceivedBytes,
		}
	}
	return r
}
