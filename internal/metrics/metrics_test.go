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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.PacketSent("loopback", 10)
	m.PacketSent("loopback", 5)
	m.PacketReceived("loopback", 7)
	m.Heartbeat("sent")
	m.SetRegistered(3)

	if got := testutil.ToFloat64(m.Packets.WithLabelValues("loopback", "out")); got != 2 {
		t.Fatalf("expected 2 packets out, got %v", got)
	}
	if got := testutil.ToFloat64(m.Bytes.WithLabelValues("loopback", "out")); got != 15 {
		t.Fatalf("expected 15 bytes out, got %v", got)
	}
	if got := testutil.ToFloat64(m.Packets.WithLabelValues("loopback", "in")); got != 1 {
		t.Fatalf("expected 1 packet in, got %v", got)
	}
	if got := testutil.ToFloat64(m.HeartbeatSends.WithLabelValues("sent")); got != 1 {
		t.Fatalf("expected 1 heartbeat, got %v", got)
	}
	if got := testutil.ToFloat64(m.RegisteredClients); got != 3 {
		t.Fatalf("expected 3 registered, got %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.PacketSent("scmp", 1)
	m.PacketReceived("scmp", 1)
	m.SendFailed("scmp", "NetworkError")
	m.Dropped("scmp")
	m.Heartbeat("failed")
	m.ObserveTick(0.1)
	m.SetRegistered(0)
}
