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
	"sync/atomic"

	"github.com/SeisComP/common-sub009/pkg/core"
)

type stats struct {
	localSeq    atomic.Uint64
	remoteSeq   atomic.Uint64
	remoteKnown atomic.Bool
	sentMsgs    atomic.Uint64
	sentBytes   atomic.Uint64
	recvMsgs    atomic.Uint64
	recvBytes   atomic.Uint64
	buffered    atomic.Int64
	maxBuffered atomic.Uint64
	maxInbox    atomic.Uint64
	maxOutbox   atomic.Uint64
	readCalls   atomic.Uint64
	writeCalls  atomic.Uint64
}

func (s *stats) reset() {
	s.localSeq.Store(0)
	s.remoteSeq.Store(0)
	s.remoteKnown.Store(false)
	s.sentMsgs.Store(0)
	s.sentBytes.Store(0)
	s.recvMsgs.Store(0)
	s.recvBytes.Store(0)
	s.buffered.Store(0)
	s.maxBuffered.Store(0)
	s.maxInbox.Store(0)
	s.maxOutbox.Store(0)
	s.readCalls.Store(0)
	s.writeCalls.Store(0)
}

func (s *stats) setRemote(seq uint64) {
	s.remoteSeq.Store(seq)
	s.remoteKnown.Store(true)
}

func (s *stats) snapshot() core.State {
	buffered := s.buffered.Load()
	if buffered < 0 {
		buffered = 0
	}
	return core.State{
		LocalSequenceNumber:  s.localSeq.Load(),
		RemoteSequenceNumber: s.remoteSeq.Load(),
		RemoteSequenceKnown:  s.remoteKnown.Load(),
		SentMessages:         s.sentMsgs.Load(),
		SentBytes:            s.sentBytes.Load(),
		ReceivedMessages:     s.recvMsgs.Load(),
		ReceivedBytes:        s.recvBytes.Load(),
		BytesBuffered:        uint64(buffered),
		MaxBufferedBytes:     s.maxBuffered.Load(),
		MaxInboxSize:         s.maxInbox.Load(),
		MaxOutboxSize:        s.maxOutbox.Load(),
		SystemReadCalls:      s.readCalls.Load(),
		SystemWriteCalls:     s.writeCalls.Load(),
	}
}

func storeMax(v *atomic.Uint64, n uint64) {
	for {
		cur := v.Load()
		if n <= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}
