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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/SeisComP/common-sub009/pkg/core"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Status     StatusConfig     `yaml:"status"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

type ConnectionConfig struct {
	URL             string        `yaml:"url"`
	ClientName      string        `yaml:"client_name"`
	PrimaryGroup    string        `yaml:"primary_group"`
	Timeout         time.Duration `yaml:"timeout"`
	ContentEncoding string        `yaml:"content_encoding"`
	ContentType     string        `yaml:"content_type"`
	MessageType     string        `yaml:"message_type"`
	MembershipInfo  bool          `yaml:"membership_info"`
	Subscriptions   []string      `yaml:"subscriptions"`
	AutoReconnect   bool          `yaml:"auto_reconnect"`
	InboxCapacity   int           `yaml:"inbox_capacity"`
	MaxOutbox       int           `yaml:"max_outbox"`
	SendRate        float64       `yaml:"send_rate"`
	SendBurst       int           `yaml:"send_burst"`
}

type StatusConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Interval        time.Duration `yaml:"interval"`
	TrafficCounters bool          `yaml:"traffic_counters"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MonitorConfig struct {
	Listen      string `yaml:"listen"`
	MetricsPath string `yaml:"metrics_path"`
}

func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			URL:             core.DefaultScheme + "://localhost:18180/production",
			Timeout:         core.DefaultTimeout,
			ContentEncoding: core.EncodingIdentity.String(),
			ContentType:     core.TypeBinary.String(),
			MessageType:     core.MessageRegular.String(),
			AutoReconnect:   true,
			InboxCapacity:   4096,
			MaxOutbox:       1024,
		},
		Status: StatusConfig{
			Enabled:         true,
			Interval:        12 * time.Second,
			TrafficCounters: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Monitor: MonitorConfig{
			Listen:      ":8086",
			MetricsPath: "/metrics",
		},
	}
}

// Load reads a YAML file on top of DefaultConfig and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	cc := c.Connection
	if strings.TrimSpace(cc.URL) == "" {
		problems = append(problems, "connection.url is empty")
	}
	if cc.Timeout < 0 {
		problems = append(problems, "connection.timeout is negative")
	}
	if _, res := core.ParseContentEncoding(cc.ContentEncoding); !res.OK() {
		problems = append(problems, fmt.Sprintf("connection.content_encoding %q is unknown", cc.ContentEncoding))
	}
	if _, res := core.ParseContentType(cc.ContentType); !res.OK() {
		problems = append(problems, fmt.Sprintf("connection.content_type %q is unknown", cc.ContentType))
	}
	if _, res := core.ParseMessageType(cc.MessageType); !res.OK() {
		problems = append(problems, fmt.Sprintf("connection.message_type %q is unknown", cc.MessageType))
	}
	for _, g := range cc.Subscriptions {
		if !core.ValidGroupName(g) {
			problems = append(problems, fmt.Sprintf("connection.subscriptions: invalid group %q", g))
		}
	}
	if cc.SendRate < 0 {
		problems = append(problems, "connection.send_rate is negative")
	}
	if c.Status.Interval < 0 {
		problems = append(problems, "status.interval is negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is unknown", c.Logging.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Encoding returns the configured content encoding. Validate has already
// rejected unknown names.
func (cc ConnectionConfig) Encoding() core.ContentEncoding {
	enc, _ := core.ParseContentEncoding(cc.ContentEncoding)
	return enc
}

func (cc ConnectionConfig) Type() core.ContentType {
	ct, res := core.ParseContentType(cc.ContentType)
	if !res.OK() {
		return core.TypeBinary
	}
	return ct
}

func (cc ConnectionConfig) Message() core.MessageType {
	mt, res := core.ParseMessageType(cc.MessageType)
	if !res.OK() {
		return core.MessageRegular
	}
	return mt
}
