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
	"sort"
	"sync"
	"time"

	"github.com/SeisComP/common-sub009/pkg/status"
)

// ExpiryIntervals is the number of missed report intervals after which a
// client is dropped.
const ExpiryIntervals = 3

// ClientView is the JSON form of the latest report of one client.
type ClientView struct {
	Name           string            `json:"name"`
	Hostname       string            `json:"hostname"`
	Program        string            `json:"program"`
	PID            int               `json:"pid"`
	Time           time.Time         `json:"time"`
	LastSeen       time.Time         `json:"last_seen"`
	CPUUsage       float64           `json:"cpu_usage"`
	MemoryKiB      uint64            `json:"memory_kib"`
	TotalMemoryKiB uint64            `json:"total_memory_kib"`
	QueueSize      int               `json:"queue_size"`
	Objects        uint64            `json:"objects"`
	UptimeSeconds  float64           `json:"uptime_seconds"`
	Traffic        *status.Traffic   `json:"traffic,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

func viewOf(r status.Report, seen time.Time) ClientView {
	return ClientView{
		Name:           r.ClientName,
		Hostname:       r.Hostname,
		Program:        r.ProgramName,
		PID:            r.PID,
		Time:           r.Time,
		LastSeen:       seen,
		CPUUsage:       r.CPUUsage,
		MemoryKiB:      r.ClientMemoryUsage,
		TotalMemoryKiB: r.TotalMemory,
		QueueSize:      r.MessageQueueSize,
		Objects:        r.ObjectCount,
		UptimeSeconds:  r.Uptime.Seconds(),
		Traffic:        r.Traffic,
		Extra:          r.Extra,
	}
}

type entry struct {
	report status.Report
	seen   time.Time
}

// Tracker keeps the latest report per client name.
type Tracker struct {
	mu      sync.RWMutex
	clients map[string]entry
	expiry  time.Duration
	now     func() time.Time
}

// NewTracker creates a tracker for reports sent every interval. A client
// is evicted once no report arrived for ExpiryIntervals intervals.
func NewTracker(interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = status.DefaultInterval
	}
	return &Tracker{
		clients: make(map[string]entry),
		expiry:  ExpiryIntervals * interval,
		now:     time.Now,
	}
}

// Update stores r. Reports without a client name are ignored. It reports
// whether the client was not known before.
func (t *Tracker) Update(r status.Report) bool {
	if r.ClientName == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, known := t.clients[r.ClientName]
	t.clients[r.ClientName] = entry{report: r, seen: t.now()}
	return !known
}

func (t *Tracker) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[name]; !ok {
		return false
	}
	delete(t.clients, name)
	return true
}

// Evict drops expired clients and returns their names, sorted.
func (t *Tracker) Evict() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var gone []string
	for name, e := range t.clients {
		if now.Sub(e.seen) >= t.expiry {
			delete(t.clients, name)
			gone = append(gone, name)
		}
	}
	sort.Strings(gone)
	return gone
}

// Clients returns the live clients sorted by name.
func (t *Tracker) Clients() []ClientView {
	t.Evict()
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ClientView, 0, len(t.clients))
	for _, e := range t.clients {
		out = append(out, viewOf(e.report, e.seen))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// Expiry is the silence after which a client is evicted.
func (t *Tracker) Expiry() time.Duration { return t.expiry }
