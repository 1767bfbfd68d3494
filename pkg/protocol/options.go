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

package protocol

import (
	"log/slog"

	"github.com/SeisComP/common-sub009/internal/logging"
	"github.com/SeisComP/common-sub009/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	DefaultInboxCapacity = 4096
	DefaultMaxOutbox     = 1024
)

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithPacketLogger traces every packet at debug level.
func WithPacketLogger(p *logging.PacketLogger) Option {
	return func(c *Client) { c.packets = p }
}

// WithInboxCapacity bounds the number of queued inbound packets. Packets
// arriving at a full inbox are dropped and reported as InboxOverflow.
func WithInboxCapacity(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.inboxCap = n
		}
	}
}

// WithMaxOutbox bounds the number of unacknowledged sends.
func WithMaxOutbox(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxOutbox = n
		}
	}
}

// WithSendRate paces outgoing packets. A non-positive rate disables pacing.
func WithSendRate(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}
