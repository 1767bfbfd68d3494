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

// Package session tracks the streaming subscribers of the monitor service
// and fans status reports out to them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/SeisComP/common-sub009/pkg/status"
)

var ErrSessionNotFound = errors.New("session not found")

const DefaultChannelSize = 64

// Session is one streaming subscriber. Reports arrive on Downstream until
// Done is closed.
type Session struct {
	ID         string
	ClientID   string
	Downstream chan status.Report

	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Uint64
}

func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Dropped is the number of reports discarded because the subscriber was
// too slow.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

type Manager struct {
	sessions    sync.Map
	channelSize int
	logger      *slog.Logger
}

func NewManager(channelSize int, logger *slog.Logger) *Manager {
	if channelSize <= 0 {
		channelSize = DefaultChannelSize
	}
	return &Manager{channelSize: channelSize, logger: logger}
}

// CreateSession registers a subscriber. The session ends when ctx is done
// or DestroySession is called.
func (m *Manager) CreateSession(ctx context.Context, clientID string) *Session {
	sctx, cancel := context.WithCancel(ctx)
	sess := &Session{
		ID:         uuid.New().String(),
		ClientID:   clientID,
		Downstream: make(chan status.Report, m.channelSize),
		ctx:        sctx,
		cancel:     cancel,
	}
	m.sessions.Store(sess.ID, sess)

	m.logger.Info("session created",
		"session_id", sess.ID,
		"client_id", clientID,
		"channel_size", m.channelSize,
	)
	return sess
}

func (m *Manager) DestroySession(sessionID string) error {
	val, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return fmt.Errorf("%w: id=%s", ErrSessionNotFound, sessionID)
	}
	sess := val.(*Session)
	sess.cancel()

	m.logger.Info("session destroyed",
		"session_id", sessionID,
		"client_id", sess.ClientID,
		"dropped", sess.Dropped(),
	)
	return nil
}

func (m *Manager) DestroyAll() {
	m.sessions.Range(func(key, _ any) bool {
		_ = m.DestroySession(key.(string))
		return true
	})
}

func (m *Manager) ActiveCount() int {
	count := 0
	m.sessions.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func (m *Manager) SessionByClientID(clientID string) (*Session, bool) {
	var found *Session
	m.sessions.Range(func(_, val any) bool {
		sess := val.(*Session)
		if sess.ClientID == clientID {
			found = sess
			return false
		}
		return true
	})
	return found, found != nil
}

// Broadcast hands r to every live session without blocking. A session
// whose channel is full loses the report. It returns the number of
// sessions that received it.
func (m *Manager) Broadcast(r status.Report) int {
	delivered := 0
	m.sessions.Range(func(_, val any) bool {
		sess := val.(*Session)
		if sess.ctx.Err() != nil {
			return true
		}
		select {
		case sess.Downstream <- r:
			delivered++
		default:
			if sess.dropped.Add(1) == 1 {
				m.logger.Warn("session channel full, dropping reports", "session_id", sess.ID, "client_id", sess.ClientID)
			}
		}
		return true
	})
	return delivered
}
