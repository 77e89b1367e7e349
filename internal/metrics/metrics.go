// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

// Package metrics provides Prometheus instrumentation for the session
// monitor, the playback store and the HTTP API. Metrics are exposed at
// /metrics in Prometheus text format.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session Monitor Metrics
	SessionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_events_total",
			Help: "Total number of playback session events received",
		},
		[]string{"kind"}, // "start", "progress", "stop"
	)

	SessionEventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_events_rejected_total",
			Help: "Total number of session events rejected before tracking",
		},
		[]string{"reason"}, // "theme_media", "no_user", "no_item", "ignored_user"
	)

	SessionUntrackedDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_untracked_drops_total",
			Help: "Total number of progress/stop events with no tracked session",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Current number of tracked playback sessions",
		},
	)

	SessionsReplaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_replaced_total",
			Help: "Total number of sessions flushed and replaced on key reuse",
		},
	)

	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_confirmations_total",
			Help: "Total number of session confirmation checks by outcome",
		},
		[]string{"outcome"}, // "confirmed", "gone", "mismatch", "source_error", "store_error"
	)

	// Playback Store Metrics
	StoreWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_writes_total",
			Help: "Total number of playback store writes through the circuit breaker",
		},
		[]string{"operation", "result"}, // operation: "insert", "update"; result: "success", "failure", "rejected"
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreRecordsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_records_pruned_total",
			Help: "Total number of playback records removed by retention pruning",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	CustomQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custom_queries_total",
			Help: "Total number of ad-hoc report queries by outcome",
		},
		[]string{"outcome"}, // "ok", "rejected", "failed", "throttled"
	)
)

// RecordSessionEvent counts one received session event by kind.
func RecordSessionEvent(kind string) {
	SessionEventsTotal.WithLabelValues(kind).Inc()
}

// RecordRejectedEvent counts one event rejected before tracking.
func RecordRejectedEvent(reason string) {
	SessionEventsRejected.WithLabelValues(reason).Inc()
}

// RecordConfirmation counts one confirmation check outcome.
func RecordConfirmation(outcome string) {
	ConfirmationsTotal.WithLabelValues(outcome).Inc()
}

// RecordStoreWrite counts one playback store write attempt.
func RecordStoreWrite(operation, result string) {
	StoreWritesTotal.WithLabelValues(operation, result).Inc()
}

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordBreakerTransition updates the breaker state gauge and counts the
// transition.
func RecordBreakerTransition(name, from, to string, toValue float64) {
	CircuitBreakerState.WithLabelValues(name).Set(toValue)
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// ObserveStoreQuery records the elapsed time of one store query. Defer at
// query start: defer metrics.ObserveStoreQuery("usage_days", time.Now()).
func ObserveStoreQuery(operation string, start time.Time) {
	StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordRateLimitHit counts one request rejected by the rate limiter.
func RecordRateLimitHit(endpoint string) {
	APIRateLimitHits.WithLabelValues(endpoint).Inc()
}
