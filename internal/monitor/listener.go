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

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SeisComP/common-sub009/internal/session"
	"github.com/SeisComP/common-sub009/pkg/client"
	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/message"
	"github.com/SeisComP/common-sub009/pkg/status"
)

// Listener reads state-of-health reports from a connection and feeds them
// to a tracker and to the streaming sessions.
type Listener struct {
	conn     *client.Connection
	tracker  *Tracker
	sessions *session.Manager
	logger   *slog.Logger
}

func NewListener(conn *client.Connection, tracker *Tracker, sessions *session.Manager, logger *slog.Logger) *Listener {
	return &Listener{
		conn:     conn,
		tracker:  tracker,
		sessions: sessions,
		logger:   logger,
	}
}

// Run subscribes the connection to the status group and processes reports
// until ctx is done or the connection fails for good. The connection must
// be connected.
func (l *Listener) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.conn.Interrupt)
	defer stop()

	if !contains(l.conn.Subscriptions(), core.StatusGroup) {
		if res := l.conn.Subscribe(ctx, core.StatusGroup); !res.OK() {
			return fmt.Errorf("monitor subscribe: %s: %w", l.conn.LastErrorMessage(), res)
		}
	}

	go l.evictLoop(ctx)

	for {
		msg, pkt, res := l.conn.RecvWithPacket(ctx)
		if !res.OK() {
			switch {
			case ctx.Err() != nil, res.Code() == core.Cancelled:
				return nil
			case res.Code() == core.TimeoutError:
				continue
			case undecodable(res), res.Code() == core.InboxOverflow:
				l.logger.Warn("status packet lost", "result", res.String(), "error", l.conn.LastErrorMessage())
				continue
			default:
				return fmt.Errorf("monitor recv: %s: %w", l.conn.LastErrorMessage(), res)
			}
		}
		if pkt.MessageType != core.MessageStatus {
			continue
		}
		l.handle(msg)
	}
}

func (l *Listener) handle(msg message.Message) {
	text, ok := msg.(*message.Text)
	if !ok {
		l.logger.Debug("ignoring non-text status message", "class", msg.ClassName())
		return
	}
	report, err := status.Parse(text.Content)
	if err != nil {
		l.logger.Warn("invalid status report", "error", err)
		return
	}
	if l.tracker.Update(report) {
		l.logger.Info("client appeared", "client", report.ClientName, "host", report.Hostname)
	}
	l.sessions.Broadcast(report)
}

func (l *Listener) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(l.tracker.Expiry() / ExpiryIntervals)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range l.tracker.Evict() {
				l.logger.Info("client timed out", "client", name)
			}
		}
	}
}

// undecodable reports whether res rejects one packet only.
func undecodable(res core.Result) bool {
	switch res.Code() {
	case core.DecodingError, core.ContentEncodingUnknown, core.ContentTypeUnknown:
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
