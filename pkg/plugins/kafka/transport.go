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

// Package kafka maps groups onto Kafka topics. Every client reads with its
// own consumer group so each one sees every record.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/plugins"
	"github.com/SeisComP/common-sub009/pkg/protocol"
	"github.com/segmentio/kafka-go"
)

const (
	Scheme      = "kafka"
	defaultPort = "9092"
)

type consumer struct {
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

type Transport struct {
	logger *slog.Logger

	mu        sync.Mutex
	brokers   []string
	addr      plugins.Address
	clientID  string
	writer    *kafka.Writer
	inbox     core.Inbox
	consumers map[string]*consumer
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

// Dial reads the broker's topic list, which becomes the group set. With
// "?autocreate=true" any group is accepted.
func (t *Transport) Dial(ctx context.Context, address string, opts core.DialOptions, inbox core.Inbox) (*core.Handshake, error) {
	addr, err := plugins.ParseAddress(address, defaultPort)
	if err != nil {
		return nil, err
	}
	brokers := []string{addr.HostPort()}
	if extra := addr.Query.Get("brokers"); extra != "" {
		brokers = append(brokers, strings.Split(extra, ",")...)
	}
	clientID := opts.ClientName
	if clientID == "" {
		clientID = core.GenerateClientName()
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("kafka dial %s: %w", brokers[0], ctx.Err())
		}
		return nil, fmt.Errorf("kafka dial %s: %v: %w", brokers[0], err, core.NewResult(core.NetworkError))
	}
	partitions, err := conn.ReadPartitions()
	conn.Close()
	if err != nil {
		return nil, fmt.Errorf("kafka read partitions: %v: %w", err, core.NewResult(core.NetworkError))
	}

	autocreate := addr.Query.Get("autocreate") == "true"
	var groups []string
	if !autocreate {
		groups = topicsToGroups(addr, partitions)
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           5 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: autocreate,
	}

	t.mu.Lock()
	t.brokers = brokers
	t.addr = addr
	t.clientID = clientID
	t.writer = writer
	t.inbox = inbox
	t.consumers = make(map[string]*consumer)
	t.mu.Unlock()

	t.logger.Info("kafka connected",
		"brokers", strings.Join(brokers, ","),
		"client_id", clientID,
		"groups", len(groups),
	)
	return &core.Handshake{ClientName: clientID, Groups: groups}, nil
}

func topicsToGroups(addr plugins.Address, partitions []kafka.Partition) []string {
	seen := map[string]struct{}{}
	groups := []string{}
	for _, p := range partitions {
		if strings.HasPrefix(p.Topic, "__") {
			continue
		}
		g, ok := addr.Group(p.Topic, ".")
		if !ok {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

func (t *Transport) Subscribe(_ context.Context, group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer == nil {
		return fmt.Errorf("kafka: %w", core.NewResult(core.NotConnected))
	}
	if _, ok := t.consumers[group]; ok {
		return fmt.Errorf("kafka subscribe %s: %w", group, core.NewResult(core.AlreadySubscribed))
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     t.brokers,
		Topic:       t.addr.Topic(group, "."),
		GroupID:     t.clientID,
		StartOffset: kafka.LastOffset,
		MaxWait:     250 * time.Millisecond,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	ctx, cancel := context.WithCancel(context.Background())
	c := &consumer{reader: reader, cancel: cancel, done: make(chan struct{})}
	t.consumers[group] = c
	go t.consume(ctx, group, c, t.inbox)
	return nil
}

func (t *Transport) consume(ctx context.Context, group string, c *consumer, inbox core.Inbox) {
	defer close(c.done)
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			t.logger.Error("kafka fetch error", "group", group, "error", err)
			inbox.Fail(fmt.Errorf("kafka fetch %s: %v: %w", group, err, core.NewResult(core.NetworkError)))
			return
		}
		pkt := plugins.PacketFromHeaders(group, msg.Value, func(key string) string {
			for _, h := range msg.Headers {
				if h.Key == key {
					return string(h.Value)
				}
			}
			return ""
		})
		pkt.Received = msg.Time
		inbox.Deliver(pkt)
	}
}

func (t *Transport) Unsubscribe(_ context.Context, group string) error {
	t.mu.Lock()
	c, ok := t.consumers[group]
	delete(t.consumers, group)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("kafka unsubscribe %s: %w", group, core.NewResult(core.NotSubscribed))
	}
	c.stop()
	return nil
}

func (c *consumer) stop() {
	c.cancel()
	<-c.done
	c.reader.Close()
}

func (t *Transport) Publish(ctx context.Context, pkt *core.Packet) error {
	t.mu.Lock()
	writer, addr, inbox := t.writer, t.addr, t.inbox
	t.mu.Unlock()
	if writer == nil {
		return fmt.Errorf("kafka: %w", core.NewResult(core.NotConnected))
	}

	headers := make([]kafka.Header, 0, 5)
	for k, v := range plugins.Headers(pkt) {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	err := writer.WriteMessages(ctx, kafka.Message{
		Topic:   addr.Topic(pkt.Target, "."),
		Key:     []byte(pkt.Sender),
		Value:   pkt.Payload,
		Headers: headers,
	})
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return fmt.Errorf("kafka publish %s: %w", pkt.Target, core.NewResult(core.GroupDoesNotExist))
		}
		return fmt.Errorf("kafka publish %s: %v: %w", pkt.Target, err, core.NewResult(core.NetworkError))
	}
	if pkt.MessageType == core.MessageRegular {
		inbox.Acknowledge(pkt.Seq)
	}
	return nil
}

// Flush returns at once. WriteMessages is synchronous.
func (t *Transport) Flush(ctx context.Context) error {
	t.mu.Lock()
	connected := t.writer != nil
	t.mu.Unlock()
	if !connected {
		return fmt.Errorf("kafka: %w", core.NewResult(core.NotConnected))
	}
	return ctx.Err()
}

func (t *Transport) Disconnect(context.Context) error {
	return t.Close()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	writer, consumers := t.writer, t.consumers
	t.writer, t.consumers = nil, nil
	t.mu.Unlock()
	for _, c := range consumers {
		c.stop()
	}
	if writer != nil {
		return writer.Close()
	}
	return nil
}
