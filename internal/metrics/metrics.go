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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scmsg"

// Metrics holds the Prometheus collectors shared by protocols and the
// status pool. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Packets           *prometheus.CounterVec
	Bytes             *prometheus.CounterVec
	SendFailures      *prometheus.CounterVec
	HeartbeatSends    *prometheus.CounterVec
	HeartbeatDuration prometheus.Histogram
	RegisteredClients prometheus.Gauge
	InboxDropped      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Packets: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_total",
				Help:      "Packets sent and received by scheme and direction",
			},
			[]string{"scheme", "direction"},
		),
		Bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payload_bytes_total",
				Help:      "Payload bytes sent and received by scheme and direction",
			},
			[]string{"scheme", "direction"},
		),
		SendFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_failures_total",
				Help:      "Failed sends by scheme and result code",
			},
			[]string{"scheme", "result"},
		),
		HeartbeatSends: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeat_sends_total",
				Help:      "Status reports published by outcome",
			},
			[]string{"outcome"},
		),
		HeartbeatDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "heartbeat_tick_seconds",
				Help:      "Duration of one heartbeat tick",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		RegisteredClients: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_connections",
				Help:      "Connections registered for status reporting",
			},
		),
		InboxDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbox_dropped_total",
				Help:      "Packets dropped because the inbox was full",
			},
			[]string{"scheme"},
		),
	}
}

func (m *Metrics) PacketSent(scheme string, size int) {
	if m == nil {
		return
	}
	m.Packets.WithLabelValues(scheme, "out").Inc()
	m.Bytes.WithLabelValues(scheme, "out").Add(float64(size))
}

func (m *Metrics) PacketReceived(scheme string, size int) {
	if m == nil {
		return
	}
	m.Packets.WithLabelValues(scheme, "in").Inc()
	m.Bytes.WithLabelValues(scheme, "in").Add(float64(size))
}

func (m *Metrics) SendFailed(scheme, result string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(scheme, result).Inc()
}

func (m *Metrics) Dropped(scheme string) {
	if m == nil {
		return
	}
	m.InboxDropped.WithLabelValues(scheme).Inc()
}

func (m *Metrics) Heartbeat(outcome string) {
	if m == nil {
		return
	}
	m.HeartbeatSends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.HeartbeatDuration.Observe(seconds)
}

func (m *Metrics) SetRegistered(n int) {
	if m == nil {
		return
	}
	m.RegisteredClients.Set(float64(n))
}
