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

// Command scmsg sends, receives and monitors messages on any of the
// supported messaging systems.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/SeisComP/common-sub009/internal/logging"
	"github.com/SeisComP/common-sub009/internal/metrics"
	"github.com/SeisComP/common-sub009/pkg/client"
	"github.com/SeisComP/common-sub009/pkg/config"
	"github.com/SeisComP/common-sub009/pkg/hostinfo"
	"github.com/SeisComP/common-sub009/pkg/plugins/builtin"
	"github.com/SeisComP/common-sub009/pkg/protocol"
	"github.com/SeisComP/common-sub009/pkg/status"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	url        string
	name       string
	logLevel   string
	noStatus   bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "scmsg",
		Short: "scmsg talks to a messaging system through a single connection API",
		Long: `scmsg connects to a broker given by URL (scmp, mqtt, kafka, amqp, redis,
nats, solace or the in-process loopback hub) and sends, receives or
monitors messages.

Settings are read from a YAML file (--config or SCMSG_CONFIG) and can be
overridden by flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", os.Getenv("SCMSG_CONFIG"), "Path to the YAML configuration")
	root.PersistentFlags().StringVarP(&g.url, "url", "u", "", "Messaging URL, overrides connection.url")
	root.PersistentFlags().StringVarP(&g.name, "name", "n", "", "Client name, overrides connection.client_name")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level, overrides logging.level")
	root.PersistentFlags().BoolVar(&g.noStatus, "no-status", false, "Do not send state-of-health reports")

	root.AddCommand(
		newSendCmd(g),
		newListenCmd(g),
		newMonitorCmd(g),
		newSchemesCmd(),
	)
	return root
}

// load reads the configuration and applies the flag overrides.
func (g *globalFlags) load() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if g.configPath != "" {
		loaded, err := config.Load(g.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	g.override(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *globalFlags) override(cfg *config.Config) {
	if g.url != "" {
		cfg.Connection.URL = g.url
	}
	if g.name != "" {
		cfg.Connection.ClientName = g.name
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.noStatus {
		cfg.Status.Enabled = false
	}
}

// runtime holds the collaborators built from one configuration.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pool     *status.Pool
}

func newRuntime(cfg *config.Config, logOut io.Writer) *runtime {
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, logOut)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	poolOpts := []status.Option{
		status.WithLogger(logger.With("component", "status")),
		status.WithMetrics(m),
		status.WithInterval(cfg.Status.Interval),
	}
	if !cfg.Status.Enabled {
		poolOpts = append(poolOpts, status.WithoutTimer())
	}
	if !cfg.Status.TrafficCounters {
		poolOpts = append(poolOpts, status.WithoutTrafficCounters())
	}
	if c, err := hostinfo.NewCollector(); err == nil {
		poolOpts = append(poolOpts, status.WithProvider(c))
	} else {
		logger.Warn("host telemetry unavailable", "error", err)
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  m,
		pool:     status.NewPool(poolOpts...),
	}
}

func (rt *runtime) connection(extra ...client.Option) *client.Connection {
	cc := rt.cfg.Connection
	protoOpts := []protocol.Option{
		protocol.WithLogger(rt.logger),
		protocol.WithMetrics(rt.metrics),
		protocol.WithPacketLogger(logging.NewPacketLogger(rt.logger.With("component", "packet"))),
		protocol.WithInboxCapacity(cc.InboxCapacity),
		protocol.WithMaxOutbox(cc.MaxOutbox),
	}
	if cc.SendRate > 0 {
		protoOpts = append(protoOpts, protocol.WithSendRate(cc.SendRate, cc.SendBurst))
	}
	opts := []client.Option{
		client.WithLogger(rt.logger),
		client.WithRegistry(builtin.NewRegistry(rt.logger)),
		client.WithPool(rt.pool),
		client.WithProtocolOptions(protoOpts...),
		client.WithContentEncoding(cc.Encoding()),
		client.WithContentType(cc.Type()),
		client.WithMessageType(cc.Message()),
		client.WithMembershipInfo(cc.MembershipInfo),
		client.WithAutoReconnect(cc.AutoReconnect),
	}
	return client.New(append(opts, extra...)...)
}

// connect binds conn to the configured URL and opens the session.
func (rt *runtime) connect(ctx context.Context, conn *client.Connection) error {
	cc := rt.cfg.Connection
	if res := conn.SetSource(cc.URL); !res.OK() {
		return fmt.Errorf("source %s: %s: %w", cc.URL, conn.LastErrorMessage(), res)
	}
	if res := conn.Connect(ctx, cc.ClientName, cc.PrimaryGroup, cc.Timeout); !res.OK() {
		return fmt.Errorf("connect %s: %s: %w", cc.URL, conn.LastErrorMessage(), res)
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newSchemesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemes",
		Short: "List the URL schemes that can be connected to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range builtin.NewRegistry(logging.Nop()).Schemes() {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
}
