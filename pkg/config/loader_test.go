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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SeisComP/common-sub009/internal/logging"
	"github.com/SeisComP/common-sub009/pkg/core"
)

func TestLoad(t *testing.T) {
	content := `
connection:
  url: loopback://lab
  client_name: scautopick
  primary_group: PICK
  timeout: 5s
  content_encoding: lz4
  content_type: text/json
  subscriptions: [CONFIG, EVENT]
  send_rate: 200
  send_burst: 20
status:
  interval: 30s
  traffic_counters: false
logging:
  level: debug
  format: text
`
	dir := t.TempDir()
	path := filepath.Join(dir, "scmsg.yaml")
	os.WriteFile(path, []byte(content), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cc := cfg.Connection
	if cc.URL != "loopback://lab" || cc.ClientName != "scautopick" || cc.PrimaryGroup != "PICK" {
		t.Fatalf("unexpected connection section %+v", cc)
	}
	if cc.Timeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", cc.Timeout)
	}
	if cc.Encoding() != core.EncodingLZ4 {
		t.Fatalf("expected lz4, got %s", cc.Encoding())
	}
	if cc.Type() != core.TypeJSON {
		t.Fatalf("expected json, got %s", cc.Type())
	}
	if cc.Message() != core.MessageRegular {
		t.Fatalf("expected default regular, got %s", cc.Message())
	}
	if len(cc.Subscriptions) != 2 || cc.Subscriptions[1] != "EVENT" {
		t.Fatalf("unexpected subscriptions %v", cc.Subscriptions)
	}
	if !cc.AutoReconnect || cc.InboxCapacity != 4096 {
		t.Fatalf("expected defaults to survive, got %+v", cc)
	}
	if cfg.Status.Interval != 30*time.Second || cfg.Status.TrafficCounters || !cfg.Status.Enabled {
		t.Fatalf("unexpected status section %+v", cfg.Status)
	}
	if cfg.Monitor.MetricsPath != "/metrics" {
		t.Fatalf("expected default metrics path, got %s", cfg.Monitor.MetricsPath)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty url", func(c *Config) { c.Connection.URL = " " }, false},
		{"unknown encoding", func(c *Config) { c.Connection.ContentEncoding = "zstd" }, false},
		{"unknown type", func(c *Config) { c.Connection.ContentType = "text/yaml" }, false},
		{"unknown message type", func(c *Config) { c.Connection.MessageType = "urgent" }, false},
		{"bad group", func(c *Config) { c.Connection.Subscriptions = []string{"PICK", "A B"} }, false},
		{"negative rate", func(c *Config) { c.Connection.SendRate = -1 }, false},
		{"negative timeout", func(c *Config) { c.Connection.Timeout = -time.Second }, false},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, false},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		err := cfg.Validate()
		if tt.valid && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", tt.name, err)
		}
	}
}

func TestWatcherAppliesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scmsg.yaml")
	os.WriteFile(path, []byte("connection:\n  subscriptions: [PICK]\n"), 0644)

	applied := make(chan *Config, 4)
	w := NewWatcher(path, func(c *Config) { applied <- c }, logging.Nop())
	w.SetInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)

	os.WriteFile(path, []byte("connection:\n  subscriptions: [PICK, EVENT]\n"), 0644)
	future := time.Now().Add(time.Minute)
	os.Chtimes(path, future, future)

	select {
	case cfg := <-applied:
		if len(cfg.Connection.Subscriptions) != 2 {
			t.Fatalf("expected 2 subscriptions, got %v", cfg.Connection.Subscriptions)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not pick up the change")
	}
}

func TestWatcherSkipsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scmsg.yaml")
	os.WriteFile(path, []byte("logging:\n  level: info\n"), 0644)

	applied := make(chan *Config, 1)
	w := NewWatcher(path, func(c *Config) { applied <- c }, logging.Nop())
	w.SetInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)

	os.WriteFile(path, []byte("logging:\n  format: xml\n"), 0644)
	future := time.Now().Add(time.Minute)
	os.Chtimes(path, future, future)

	select {
	case cfg := <-applied:
		t.Fatalf("invalid config applied: %+v", cfg)
	case <-time.After(100 * time.Millisecond):
	}
}
