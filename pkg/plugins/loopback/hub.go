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

// Package loopback is an in-process broker. Every client connected to the
// same hub sees the same group set, name uniqueness and delivery order.
package loopback

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/SeisComP/common-sub009/internal/routing"
	"github.com/SeisComP/common-sub009/pkg/core"
)

// DefaultGroups is the group set of hubs created on demand.
var DefaultGroups = []string{
	core.StatusGroup,
	core.ListenerGroup,
	core.ImportGroup,
	"AMPLITUDE",
	"CONFIG",
	"EVENT",
	"FOCMECH",
	"GUI",
	"LOCATION",
	"MAGNITUDE",
	"PICK",
	"QC",
	"SERVICE_REQUEST",
}

type HubOption func(*Hub)

// WithGroups fixes the group set. A nil slice accepts any group name.
func WithGroups(groups []string) HubOption {
	return func(h *Hub) {
		if groups == nil {
			h.groups = nil
			return
		}
		h.groups = make(map[string]struct{}, len(groups))
		for _, g := range groups {
			h.groups[g] = struct{}{}
		}
	}
}

func WithParameters(params core.KeyValueStore) HubOption {
	return func(h *Hub) { h.params = params.Clone() }
}

func WithMaxPayloadSize(n int) HubOption {
	return func(h *Hub) { h.maxPayload = n }
}

func WithSchemaVersion(v string) HubOption {
	return func(h *Hub) { h.schema = v }
}

func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

type member struct {
	name       string
	membership bool
	inbox      core.Inbox
}

// Hub routes packets between the clients connected to it.
type Hub struct {
	name       string
	groups     map[string]struct{}
	params     core.KeyValueStore
	maxPayload int
	schema     string
	logger     *slog.Logger

	mu      sync.Mutex
	table   *routing.Table
	members map[string]*member
}

func NewHub(name string, opts ...HubOption) *Hub {
	h := &Hub{
		name:       name,
		maxPayload: core.DefaultMaxPayloadSize,
		schema:     core.DefaultSchemaVersion,
		logger:     slog.Default(),
		table:      routing.NewTable(),
		members:    make(map[string]*member),
	}
	WithGroups(DefaultGroups)(h)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Name() string { return h.name }

// Groups returns the hub's group set, sorted, or nil for an open hub.
func (h *Hub) Groups() []string {
	if h.groups == nil {
		return nil
	}
	out := make([]string, 0, len(h.groups))
	for g := range h.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Clients returns the names of the connected clients, sorted.
func (h *Hub) Clients() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.members))
	for n := range h.members {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Members returns the clients subscribed to group.
func (h *Hub) Members(group string) []string {
	return h.table.Members(group)
}

func (h *Hub) join(name string, membership bool, inbox core.Inbox) (*core.Handshake, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if name == "" {
		for {
			name = core.GenerateClientName()
			if _, taken := h.members[name]; !taken {
				break
			}
		}
	}
	if _, taken := h.members[name]; taken {
		return nil, fmt.Errorf("loopback join %q: %w", name, core.NewResult(core.DuplicateUsername))
	}
	h.members[name] = &member{name: name, membership: membership, inbox: inbox}
	h.logger.Debug("client joined hub", "hub", h.name, "client", name)
	return &core.Handshake{
		ClientName:     name,
		SchemaVersion:  h.schema,
		Groups:         h.Groups(),
		Parameters:     h.params.Clone(),
		MaxPayloadSize: h.maxPayload,
	}, nil
}

func (h *Hub) subscribe(name, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[name]; !ok {
		return fmt.Errorf("loopback subscribe: %w", core.NewResult(core.NotConnected))
	}
	if !h.knows(group) {
		return fmt.Errorf("loopback subscribe %q: %w", group, core.NewResult(core.GroupDoesNotExist))
	}
	if !h.table.Join(group, name) {
		return fmt.Errorf("loopback subscribe %q: %w", group, core.NewResult(core.AlreadySubscribed))
	}
	h.notify(core.PacketEnterGroup, name, group)
	return nil
}

func (h *Hub) unsubscribe(name, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.table.Leave(group, name) {
		return fmt.Errorf("loopback unsubscribe %q: %w", group, core.NewResult(core.NotSubscribed))
	}
	h.notify(core.PacketLeaveGroup, name, group)
	return nil
}

// publish fans a packet out to every subscriber of its target in one
// critical section, so all receivers observe the same order.
func (h *Hub) publish(pkt *core.Packet) error {
	if len(pkt.Payload) > h.maxPayload {
		return fmt.Errorf("loopback publish: %w", core.NewResult(core.MessageTooLarge))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	sender, ok := h.members[pkt.Sender]
	if !ok {
		return fmt.Errorf("loopback publish: %w", core.NewResult(core.NotConnected))
	}
	if !h.knows(pkt.Target) {
		return fmt.Errorf("loopback publish %q: %w", pkt.Target, core.NewResult(core.GroupDoesNotExist))
	}
	for _, name := range h.table.Members(pkt.Target) {
		if m, ok := h.members[name]; ok {
			m.inbox.Deliver(pkt.Clone())
		}
	}
	if pkt.MessageType == core.MessageRegular {
		sender.inbox.Acknowledge(pkt.Seq)
	}
	return nil
}

func (h *Hub) leave(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[name]; !ok {
		return false
	}
	delete(h.members, name)
	for _, g := range h.table.LeaveAll(name) {
		h.notify(core.PacketDisconnected, name, g)
	}
	h.logger.Debug("client left hub", "hub", h.name, "client", name)
	return true
}

// Kick drops a client as if the broker had closed its connection.
func (h *Hub) Kick(name string) bool {
	h.mu.Lock()
	m, ok := h.members[name]
	h.mu.Unlock()
	if !ok || !h.leave(name) {
		return false
	}
	m.inbox.Fail(fmt.Errorf("loopback: kicked by hub %q: %w", h.name, core.NewResult(core.ConnectionClosedByPeer)))
	return true
}

// notify sends a membership packet to the members of group that asked for
// membership info. Callers hold h.mu.
func (h *Hub) notify(kind core.PacketType, client, group string) {
	for _, name := range h.table.Members(group) {
		m, ok := h.members[name]
		if !ok || !m.membership || name == client {
			continue
		}
		m.inbox.Deliver(&core.Packet{Type: kind, Sender: client, Target: group})
	}
}

func (h *Hub) knows(group string) bool {
	if group == "" {
		return false
	}
	if h.groups == nil {
		return true
	}
	_, ok := h.groups[group]
	return ok
}

var (
	hubsMu sync.Mutex
	hubs   = map[string]*Hub{}
)

// Register makes hub reachable under its name, replacing any previous hub.
func Register(hub *Hub) {
	hubsMu.Lock()
	hubs[hub.name] = hub
	hubsMu.Unlock()
}

// Unregister removes a named hub. Clients still connected keep working.
func Unregister(name string) {
	hubsMu.Lock()
	delete(hubs, name)
	hubsMu.Unlock()
}

// Lookup returns the named hub, creating one with default settings on first use.
func Lookup(name string) *Hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[name]
	if !ok {
		h = NewHub(name)
		hubs[name] = h
	}
	return h
}

// hubName extracts the hub name from an address such as "host/path?query".
func hubName(address string) string {
	address = strings.TrimPrefix(address, "//")
	if i := strings.IndexAny(address, "/?"); i >= 0 {
		address = address[:i]
	}
	if address == "" {
		return "localhost"
	}
	return address
}
