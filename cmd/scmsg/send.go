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
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SeisComP/common-sub009/pkg/message"
)

func newSendCmd(g *globalFlags) *cobra.Command {
	var perLine bool

	cmd := &cobra.Command{
		Use:   "send GROUP [TEXT...]",
		Short: "Send a text message to a group",
		Long: `Send the remaining arguments, joined by spaces, as one text message.
Without arguments the message is read from standard input; with --lines
every input line becomes its own message.`,
		Args: cobra.MinimumNArgs(1),
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

			group := args[0]
			var texts []string
			switch {
			case len(args) > 1:
				texts = []string{strings.Join(args[1:], " ")}
			case perLine:
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					texts = append(texts, sc.Text())
				}
				if err := sc.Err(); err != nil {
					return fmt.Errorf("read input: %w", err)
				}
			default:
				var b strings.Builder
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					if b.Len() > 0 {
						b.WriteByte('\n')
					}
					b.WriteString(sc.Text())
				}
				if err := sc.Err(); err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				texts = []string{b.String()}
			}

			for _, text := range texts {
				if res := conn.SendMessageTo(ctx, group, message.NewText(text)); !res.OK() {
					return fmt.Errorf("send to %s: %s: %w", group, conn.LastErrorMessage(), res)
				}
			}
			if res := conn.SyncOutbox(ctx); !res.OK() {
				return fmt.Errorf("flush: %s: %w", conn.LastErrorMessage(), res)
			}
			rt.logger.Info("messages sent", "group", group, "count", len(texts))
			conn.Disconnect(context.WithoutCancel(ctx))
			return nil
		},
	}
	cmd.Flags().BoolVar(&perLine, "lines", false, "Send every input line as a separate message")
	return cmd
}
