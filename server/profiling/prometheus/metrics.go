/*
 * Copyright 2026 The Syncroom Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package prometheus provides a Prometheus metrics exporter.
package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/syncroom-team/syncroom/internal/version"
)

const (
	namespace        = "syncroom"
	versionLabel     = "version"
	messageTypeLabel = "message_type"
)

// Metrics manages the metric information that syncroom is trying to measure.
type Metrics struct {
	registry *prometheus.Registry

	serverVersion *prometheus.GaugeVec

	connectionsTotal prometheus.Gauge
	roomsTotal       prometheus.Gauge
	buffersTotal     prometheus.Gauge

	messagesHandledTotal  *prometheus.CounterVec
	pushesSentTotal       *prometheus.CounterVec
	bufferOperationsTotal prometheus.Counter
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	metrics := &Metrics{
		registry: reg,
		serverVersion: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "version",
			Help:      "Which version is running. 1 for 'server_version' label with current version.",
		}, []string{versionLabel}),
		connectionsTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "The number of live client connections.",
		}),
		roomsTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "live_total",
			Help:      "The number of live rooms.",
		}),
		buffersTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "buffers_total",
			Help:      "The number of live channel buffers.",
		}),
		messagesHandledTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "messages_handled_total",
			Help:      "The total number of request messages handled, by type.",
		}, []string{messageTypeLabel}),
		pushesSentTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "pushes_sent_total",
			Help:      "The total number of push messages sent, by type.",
		}, []string{messageTypeLabel}),
		bufferOperationsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "operations_total",
			Help:      "The total number of buffer operations applied.",
		}),
	}
	metrics.serverVersion.With(prometheus.Labels{
		versionLabel: version.Version,
	}).Set(1)

	return metrics, nil
}

// SetConnections sets the number of live connections.
func (m *Metrics) SetConnections(count int) {
	m.connectionsTotal.Set(float64(count))
}

// SetRooms sets the number of live rooms.
func (m *Metrics) SetRooms(count int) {
	m.roomsTotal.Set(float64(count))
}

// SetBuffers sets the number of live channel buffers.
func (m *Metrics) SetBuffers(count int) {
	m.buffersTotal.Set(float64(count))
}

// AddMessageHandled counts one handled request of the given type.
func (m *Metrics) AddMessageHandled(messageType string) {
	m.messagesHandledTotal.With(prometheus.Labels{
		messageTypeLabel: messageType,
	}).Inc()
}

// AddPushSent counts one sent push of the given type.
func (m *Metrics) AddPushSent(messageType string) {
	m.pushesSentTotal.With(prometheus.Labels{
		messageTypeLabel: messageType,
	}).Inc()
}

// AddBufferOperation counts one applied buffer operation.
func (m *Metrics) AddBufferOperation() {
	m.bufferOperationsTotal.Inc()
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
