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

package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/SeisComP/common-sub009/pkg/message"
)

// Protocol owns one broker session. Receives are serialized by a read lock
// and all writers share a separate send lock.
type Protocol interface {
	Type() string

	Connect(ctx context.Context, address string, timeout time.Duration, clientName string) Result
	Disconnect(ctx context.Context) Result
	Close() Result
	IsConnected() bool

	Subscribe(ctx context.Context, group string) Result
	Unsubscribe(ctx context.Context, group string) Result

	SendData(ctx context.Context, target string, payload []byte, mt MessageType, enc ContentEncoding, ct ContentType) Result
	SendMessage(ctx context.Context, target string, msg message.Message, mt MessageType, enc ContentEncoding, ct ContentType) Result

	// Recv returns the next data packet. RecvPacket also returns control packets.
	Recv(ctx context.Context) (*Packet, Result)
	RecvPacket(ctx context.Context) (*Packet, Result)
	TryRecv() (*Packet, Result)
	FetchInbox(ctx context.Context) Result
	SyncOutbox(ctx context.Context) Result
	Interrupt()

	SetTimeout(d time.Duration) Result
	SetMembershipInfo(enabled bool)

	InboxSize() int
	OutboxSize() int
	State() State

	ClientName() string
	SchemaVersion() string
	Groups() []string
	Subscriptions() []string
	ExtendedParameters() KeyValueStore
	LastErrorMessage() string
}

// State holds the running counters of one protocol session.
type State struct {
	LocalSequenceNumber  uint64
	RemoteSequenceNumber uint64
	RemoteSequenceKnown  bool
	SentMessages         uint64
	SentBytes            uint64
	ReceivedMessages     uint64
	ReceivedBytes        uint64
	BytesBuffered        uint64
	MaxBufferedBytes     uint64
	MaxInboxSize         uint64
	MaxOutboxSize        uint64
	SystemReadCalls      uint64
	SystemWriteCalls     uint64
}

// KeyValueStore holds broker-supplied parameters. Protocols hand out copies.
type KeyValueStore map[string]string

func (kv KeyValueStore) Get(key string) (string, bool) {
	v, ok := kv[key]
	return v, ok
}

func (kv KeyValueStore) Clone() KeyValueStore {
	if kv == nil {
		return nil
	}
	cp := make(KeyValueStore, len(kv))
	for k, v := range kv {
		cp[k] = v
	}
	return cp
}

// Transport is the broker-specific half of a Protocol.
type Transport interface {
	Type() string
	Dial(ctx context.Context, address string, opts DialOptions, inbox Inbox) (*Handshake, error)
	Subscribe(ctx context.Context, group string) error
	Unsubscribe(ctx context.Context, group string) error
	Publish(ctx context.Context, pkt *Packet) error
	// Flush blocks until every published regular packet is acknowledged.
	Flush(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Close() error
}

// PendingCounter is implemented by transports that track unacknowledged sends.
type PendingCounter interface {
	Pending() int
}

// Inbox receives callbacks from a transport's reader.
type Inbox interface {
	Deliver(pkt *Packet)
	Acknowledge(seq uint64)
	Fail(err error)
}

type DialOptions struct {
	ClientName     string
	MembershipInfo bool
	Timeout        time.Duration
	Logger         *slog.Logger
}

// Handshake is the broker's answer to a successful dial. A nil Groups slice
// means the broker does not restrict group names.
type Handshake struct {
	ClientName     string
	SchemaVersion  string
	Groups         []string
	Parameters     KeyValueStore
	MaxPayloadSize int
	RemoteSequence *uint64
}
