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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeisComP/common-sub009/internal/logging"
	"github.com/SeisComP/common-sub009/pkg/client"
	"github.com/SeisComP/common-sub009/pkg/config"
	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/hostinfo"
	"github.com/SeisComP/common-sub009/pkg/message"
	"github.com/SeisComP/common-sub009/pkg/plugins/builtin"
	"github.com/SeisComP/common-sub009/pkg/status"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func peer(t *testing.T, hub, name string) *client.Connection {
	t.Helper()
	pool := status.NewPool(status.WithoutTimer(), status.WithLogger(logging.Nop()),
		status.WithProvider(hostinfo.Static{Hostname: "test"}))
	c := client.New(
		client.WithLogger(logging.Nop()),
		client.WithRegistry(builtin.NewRegistry(logging.Nop())),
		client.WithPool(pool),
	)
	t.Cleanup(c.Release)
	require.True(t, c.SetSource("loopback://"+hub).OK())
	require.True(t, c.Connect(context.Background(), name, "", time.Second).OK(), c.LastErrorMessage())
	return c
}

func TestSchemesCommand(t *testing.T) {
	out, err := run(t, "", "schemes")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines, "loopback")
	assert.Contains(t, lines, "scmp")
	assert.Contains(t, lines, "kafka")
}

func TestSendCommand(t *testing.T) {
	hub := "TestSendCommand"
	recv := peer(t, hub, "receiver")
	require.True(t, recv.Subscribe(context.Background(), "PICK").OK())

	_, err := run(t, "", "--no-status", "--url", "loopback://"+hub, "--name", "sender", "send", "PICK", "hello", "world")
	require.NoError(t, err)

	msg, res := recv.Recv(context.Background())
	require.True(t, res.OK(), "%v", res)
	assert.Equal(t, &message.Text{Content: "hello world"}, msg)
}

func TestSendLinesFromStdin(t *testing.T) {
	hub := "TestSendLinesFromStdin"
	recv := peer(t, hub, "receiver")
	require.True(t, recv.Subscribe(context.Background(), "EVENT").OK())

	_, err := run(t, "one\ntwo\n", "--no-status", "--url", "loopback://"+hub, "send", "--lines", "EVENT")
	require.NoError(t, err)

	for _, want := range []string{"one", "two"} {
		msg, res := recv.Recv(context.Background())
		require.True(t, res.OK(), "%v", res)
		assert.Equal(t, want, msg.(*message.Text).Content)
	}
}

func TestSendUnknownScheme(t *testing.T) {
	_, err := run(t, "", "--no-status", "--url", "carrier-pigeon://coop", "send", "PICK", "x")
	assert.ErrorIs(t, err, core.NewResult(core.InvalidProtocol))
}

func TestListenCommand(t *testing.T) {
	hub := "TestListenCommand"
	sender := peer(t, hub, "sender")

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := run(t, "", "--no-status", "--url", "loopback://"+hub, "--name", "listener", "listen", "--count", "1", "LOCATION")
		done <- result{out, err}
	}()

	// the listener subscribes asynchronously, so keep sending until it reports
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-done:
			require.NoError(t, r.err)
			assert.Equal(t, "[LOCATION] sender: ping\n", r.out)
			return
		case <-ticker.C:
			sender.SendMessageTo(context.Background(), "LOCATION", message.NewText("ping"))
		case <-deadline:
			t.Fatal("listen did not return")
		}
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scmsg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
connection:
  url: scmp://broker:18180/production
  client_name: from-file
logging:
  level: debug
`), 0o644))

	g := &globalFlags{configPath: path, name: "from-flag", noStatus: true}
	cfg, err := g.load()
	require.NoError(t, err)
	assert.Equal(t, "scmp://broker:18180/production", cfg.Connection.URL)
	assert.Equal(t, "from-flag", cfg.Connection.ClientName)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Status.Enabled)

	g = &globalFlags{configPath: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err = g.load()
	assert.Error(t, err)

	g = &globalFlags{url: " "}
	_, err = g.load()
	assert.ErrorIs(t, err, config.ErrInvalid)
}
