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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeisComP/common-sub009/internal/monitor"
	"github.com/SeisComP/common-sub009/internal/session"
	"github.com/SeisComP/common-sub009/pkg/client"
)

var _ monitor.Publisher = (*client.Connection)(nil)

func newMonitorCmd(g *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Track the clients reporting on the status group and serve them over HTTP",
		Long: `Subscribe to STATUS_GROUP and keep the latest report of every client.
A client is dropped after three missed report intervals.

Endpoints:
  GET  /clients          latest reports as JSON
  GET  /events           server-sent events stream of reports
  GET  /ws               websocket stream of reports
  POST /publish/{group}  send the request body as a text message
  GET  /metrics          Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Monitor.Listen = listen
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt := newRuntime(cfg, cmd.ErrOrStderr())
			conn := rt.connection()
			defer conn.Release()
			if err := rt.connect(ctx, conn); err != nil {
				return err
			}

			tracker := monitor.NewTracker(cfg.Status.Interval)
			sessions := session.NewManager(session.DefaultChannelSize, rt.logger.With("component", "session"))
			listener := monitor.NewListener(conn, tracker, sessions, rt.logger.With("component", "listener"))
			srv := monitor.New(cfg.Monitor.Listen, tracker, sessions, rt.logger.With("component", "monitor"),
				monitor.WithPublisher(conn),
				monitor.WithGatherer(rt.registry),
				monitor.WithMetricsPath(cfg.Monitor.MetricsPath),
			)

			errs := make(chan error, 2)
			go func() { errs <- listener.Run(ctx) }()
			go func() { errs <- srv.Start(ctx) }()

			rt.logger.Info("monitor started", "url", cfg.Connection.URL, "listen", cfg.Monitor.Listen)

			var first error
			select {
			case <-ctx.Done():
			case first = <-errs:
				if first != nil {
					first = fmt.Errorf("monitor: %w", first)
				}
			}
			rt.logger.Info("shutting down monitor")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			srv.Stop(shutdownCtx)
			conn.Disconnect(shutdownCtx)

			rt.logger.Info("monitor stopped")
			return first
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address, overrides monitor.listen")
	return cmd
}
