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
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeisComP/common-sub009/pkg/config"
	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/message"
)

func newListenCmd(g *globalFlags) *cobra.Command {
	var (
		count      int
		jsonOutput bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "listen [GROUP...]",
		Short: "Subscribe to groups and print the messages received",
		Long: `Subscribe to the given groups and to connection.subscriptions and print
every message. When a configuration file is used, edits to its
subscription list are applied while listening.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt := newRuntime(cfg, cmd.ErrOrStderr())
			conn := rt.connection()
			defer conn.Release()
			if err := rt.connect(ctx, conn); err != nil {
				return err
			}
			if res := conn.SetSubscriptions(ctx, append(append([]string(nil), args...), cfg.Connection.Subscriptions...)); !res.OK() {
				return fmt.Errorf("subscribe: %s: %w", conn.LastErrorMessage(), res)
			}
			if timeout > 0 {
				conn.SetTimeout(timeout)
			}

			if g.configPath != "" {
				w := config.NewWatcher(g.configPath, func(next *config.Config) {
					groups := append(append([]string(nil), args...), next.Connection.Subscriptions...)
					if res := conn.SetSubscriptions(ctx, groups); !res.OK() {
						rt.logger.Warn("subscription update incomplete", "result", res.String(), "error", conn.LastErrorMessage())
						return
					}
					rt.logger.Info("subscriptions updated", "groups", conn.Subscriptions())
				}, rt.logger)
				go w.Watch(ctx)
			}

			stopInterrupt := context.AfterFunc(ctx, conn.Interrupt)
			defer stopInterrupt()

			out := cmd.OutOrStdout()
			for received := 0; count <= 0 || received < count; {
				msg, pkt, res := conn.RecvWithPacket(ctx)
				if !res.OK() {
					switch {
					case ctx.Err() != nil, res.Code() == core.Cancelled:
						return nil
					case res.Code() == core.DecodingError, res.Code() == core.ContentEncodingUnknown, res.Code() == core.ContentTypeUnknown:
						rt.logger.Warn("undecodable message", "sender", pkt.Sender, "group", pkt.Target, "error", conn.LastErrorMessage())
						continue
					default:
						return fmt.Errorf("receive: %s: %w", conn.LastErrorMessage(), res)
					}
				}
				if err := printMessage(out, pkt, msg, jsonOutput); err != nil {
					return err
				}
				received++
			}
			conn.Disconnect(context.WithoutCancel(ctx))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many messages (0 listens forever)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print messages as JSON records")
	cmd.Flags().DurationVar(&timeout, "read-timeout", 0, "Fail when no message arrives within this duration")
	return cmd
}

type record struct {
	Group   string          `json:"group"`
	Sender  string          `json:"sender"`
	Type    string          `json:"type"`
	Class   string          `json:"class"`
	Message message.Message `json:"message"`
}

func printMessage(w io.Writer, pkt *core.Packet, msg message.Message, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(record{
			Group:   pkt.Target,
			Sender:  pkt.Sender,
			Type:    pkt.MessageType.String(),
			Class:   msg.ClassName(),
			Message: msg,
		})
	}
	if text, ok := msg.(*message.Text); ok {
		_, err := fmt.Fprintf(w, "[%s] %s: %s\n", pkt.Target, pkt.Sender, text.Content)
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "[%s] %s: %s %s\n", pkt.Target, pkt.Sender, msg.ClassName(), data)
	return err
}
