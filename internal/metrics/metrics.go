// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline, exposed at /metrics in Prometheus text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesIngested counts normalized entries emitted per source and
	// ingestion method.
	EntriesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medialogd_entries_ingested_total",
		Help: "Normalized log entries ingested",
	}, []string{"source_id", "method"})

	// ParseMisses counts lines that matched neither a header grammar nor
	// a continuation rule and were emitted as heuristic entries.
	ParseMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medialogd_parse_misses_total",
		Help: "Lines emitted as best-effort heuristic entries",
	}, []string{"source_id"})

	// FilesSkipped counts files skipped due to transient file errors.
	FilesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medialogd_files_skipped_total",
		Help: "Files skipped due to read errors",
	}, []string{"source_id"})

	// FilesCompleted counts files whose initial read finished.
	FilesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medialogd_files_completed_total",
		Help: "Files whose backfill read completed",
	}, []string{"source_id"})

	// SourceStatus reports the per-source state machine position
	// (0=discovering, 1=processing, 2=watching, 3=error).
	SourceStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "medialogd_source_status",
		Help: "Source ingestion state (0=discovering 1=processing 2=watching 3=error)",
	}, []string{"source_id"})

	// WebSocketClients tracks currently connected consumers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medialogd_websocket_clients",
		Help: "Connected WebSocket consumers",
	})

	// WebSocketDrops counts messages dropped because a consumer could not
	// keep up. Delivery is best-effort; the store is the durable record.
	WebSocketDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medialogd_websocket_drops_total",
		Help: "Messages dropped for slow consumers",
	}, []string{"message_type"})

	// StoreAppendDuration observes entry batch append latency.
	StoreAppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "medialogd_store_append_duration_seconds",
		Help:    "Entry batch append latency",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})

	// CircuitBreakerState reports live-API breaker state
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "medialogd_circuit_breaker_state",
		Help: "Live-API circuit breaker state (0=closed 1=open 2=half-open)",
	}, []string{"name"})

	// LiveAPIErrors counts failed activity-history polls.
	LiveAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medialogd_live_api_errors_total",
		Help: "Failed live-API polls",
	}, []string{"source_id"})

	// HTTPRequestDuration observes API request latency by route pattern,
	// not raw path, to keep cardinality bounded.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medialogd_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"method", "route", "status"})
)

// statusValues maps state machine positions to gauge values.
var statusValues = map[string]float64{
	"discovering": 0,
	"processing":  1,
	"watching":    2,
	"error":       3,
}

// SetSourceStatus updates the per-source state gauge.
func SetSourceStatus(sourceID, status string) {
	if v, ok := statusValues[status]; ok {
		SourceStatus.WithLabelValues(sourceID).Set(v)
	}
}
