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

package status

import (
	"log/slog"
	"time"

	"github.com/SeisComP/common-sub009/internal/metrics"
	"github.com/SeisComP/common-sub009/pkg/hostinfo"
)

const (
	DefaultInterval    = 12 * time.Second
	DefaultSendTimeout = time.Second
)

type Option func(*Pool)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

func WithProvider(provider hostinfo.Provider) Option {
	return func(p *Pool) { p.provider = provider }
}

func WithInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithSendTimeout bounds each status send.
func WithSendTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.sendTimeout = d
		}
	}
}

// WithoutTimer disables the background ticker. Reports are then only sent
// through Tick.
func WithoutTimer() Option {
	return func(p *Pool) { p.timer = false }
}

// WithoutTrafficCounters omits the sent and received counters from reports.
func WithoutTrafficCounters() Option {
	return func(p *Pool) { p.traffic = false }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}
