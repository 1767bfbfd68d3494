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
	"log/slog"
	"time"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/plugins"
	"github.com/SeisComP/common-sub009/pkg/protocol"
	"github.com/SeisComP/common-sub009/pkg/status"
)

const (
	DefaultRetryInitial    = 500 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMaxElapsed = 5 * time.Minute
)

type Option func(*Connection)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegistry selects the scheme registry used by SetSource.
func WithRegistry(r *plugins.Registry) Option {
	return func(c *Connection) { c.registry = r }
}

// WithPool selects the status pool the connection registers with.
func WithPool(p *status.Pool) Option {
	return func(c *Connection) { c.pool = p }
}

// WithProtocolOptions is applied to every protocol created by SetSource.
func WithProtocolOptions(opts ...protocol.Option) Option {
	return func(c *Connection) { c.protoOpts = append(c.protoOpts, opts...) }
}

func WithContentEncoding(enc core.ContentEncoding) Option {
	return func(c *Connection) { c.encoding = enc }
}

func WithContentType(ct core.ContentType) Option {
	return func(c *Connection) { c.contentType = ct }
}

func WithMessageType(mt core.MessageType) Option {
	return func(c *Connection) { c.messageType = mt }
}

func WithMembershipInfo(enabled bool) Option {
	return func(c *Connection) { c.membershipInfo = enabled }
}

// WithAutoReconnect makes Recv reconnect after a transport failure.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Connection) { c.autoReconnect = enabled }
}

// WithRetry tunes the exponential backoff of automatic reconnects. A zero
// maxElapsed retries until the context ends.
func WithRetry(initial, maxInterval, maxElapsed time.Duration) Option {
	return func(c *Connection) {
		if initial > 0 {
			c.retryInitial = initial
		}
		if maxInterval > 0 {
			c.retryMax = maxInterval
		}
		c.retryMaxElapsed = maxElapsed
	}
}

// WithStatusInfo contributes extra fields to every status report.
func WithStatusInfo(fn func() map[string]string) Option {
	return func(c *Connection) { c.statusInfo = fn }
}
