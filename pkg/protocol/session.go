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
	"sync"
	"sync/atomic"
	"time"

	"github.com/SeisComP/common-sub009/pkg/core"
)

// session is the inbox handed to a transport for one dial. Late callbacks
// from a previous dial land in a finished session and are dropped.
type session struct {
	client  *Client
	inbox   chan *core.Packet
	arrived chan struct{}
	done    chan struct{}

	once     sync.Once
	err      error
	reported atomic.Bool
	dropped  atomic.Uint64
}

func newSession(c *Client, capacity int) *session {
	return &session{
		client:  c,
		inbox:   make(chan *core.Packet, capacity),
		arrived: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *session) Deliver(pkt *core.Packet) {
	if s.finished() {
		return
	}
	if pkt.Received.IsZero() {
		pkt.Received = time.Now().UTC()
	}
	st := &s.client.stats
	select {
	case s.inbox <- pkt:
		buffered := st.buffered.Add(int64(len(pkt.Payload)))
		if buffered > 0 {
			storeMax(&st.maxBuffered, uint64(buffered))
		}
		storeMax(&st.maxInbox, uint64(len(s.inbox)))
		select {
		case s.arrived <- struct{}{}:
		default:
		}
	default:
		s.dropped.Add(1)
		s.client.metrics.Dropped(s.client.scheme)
	}
}

func (s *session) Acknowledge(seq uint64) {
	if s.finished() {
		return
	}
	s.client.stats.setRemote(seq)
}

func (s *session) Fail(err error) {
	if s.finish(err) {
		s.client.lost(s, err)
	}
}

// finish closes the session once. It reports whether this call closed it.
func (s *session) finish(err error) bool {
	closed := false
	s.once.Do(func() {
		s.err = err
		close(s.done)
		closed = true
	})
	return closed
}

func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// result is what a reader sees once the session has ended and the inbox is
// drained. A transport failure is reported once, NotConnected afterwards.
func (s *session) result() core.Result {
	if s.err == nil || s.reported.Swap(true) {
		return core.NewResult(core.NotConnected)
	}
	return core.ResultOf(s.err)
}
