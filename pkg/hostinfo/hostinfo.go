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

// Package hostinfo samples the process and host figures carried in
// state-of-health reports.
package hostinfo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Snapshot is one sample. Memory figures are in KiB.
type Snapshot struct {
	Hostname          string
	ProgramName       string
	PID               int
	TotalMemory       uint64
	CPUUsage          float64
	ClientMemoryUsage uint64
	ObjectCount       uint64
	Uptime            time.Duration
}

type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Static always returns the same snapshot.
type Static Snapshot

func (s Static) Snapshot(context.Context) (Snapshot, error) {
	return Snapshot(s), nil
}

// Collector samples the running process through gopsutil. CPU usage is
// measured between consecutive calls.
type Collector struct {
	mu       sync.Mutex
	proc     *process.Process
	hostname string
	program  string
	started  time.Time
}

func NewCollector() (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("hostinfo: %w", err)
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	c := &Collector{
		proc:     proc,
		hostname: hostname,
		program:  programName(),
		started:  time.Now(),
	}
	if ms, err := proc.CreateTime(); err == nil {
		c.started = time.UnixMilli(ms)
	}
	// prime the CPU baseline
	_, _ = proc.Percent(0)
	return c, nil
}

func programName() string {
	base := filepath.Base(os.Args[0])
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (c *Collector) Snapshot(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Hostname:    c.hostname,
		ProgramName: c.program,
		PID:         int(c.proc.Pid),
		Uptime:      max(time.Since(c.started), 0),
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("hostinfo memory: %w", err)
	}
	s.TotalMemory = vm.Total / 1024

	cpu, err := c.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return s, fmt.Errorf("hostinfo cpu: %w", err)
	}
	s.CPUUsage = cpu

	mi, err := c.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("hostinfo rss: %w", err)
	}
	s.ClientMemoryUsage = mi.RSS / 1024

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.ObjectCount = ms.HeapObjects
	return s, nil
}
