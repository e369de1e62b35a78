// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Write Interception Metrics
	WritesIntercepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongotrack_writes_intercepted_total",
			Help: "Total number of intercepted write operations",
		},
		[]string{"collection", "operation", "tracked"}, // tracked: "true" when a tracked field was touched
	)

	TouchedFields = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongotrack_touched_fields",
			Help:    "Number of tracked fields touched per intercepted write",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		},
		[]string{"collection"},
	)

	WriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongotrack_write_duration_seconds",
			Help:    "Duration of intercepted writes including the drain, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "operation"},
	)

	// Drain Metrics
	DrainDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongotrack_drain_duration_seconds",
			Help:    "Duration of change drains in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"collection"},
	)

	DrainedChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongotrack_drained_changes_total",
			Help: "Total number of changes read and cleared by drains",
		},
		[]string{"collection"},
	)

	DrainErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongotrack_drain_errors_total",
			Help: "Total number of failed drains by stage",
		},
		[]string{"collection", "stage"}, // stage: "find", "clear", "callback", "ledger", "publish"
	)

	CallbackDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongotrack_callback_duration_seconds",
			Help:    "Duration of change callbacks in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "path"},
	)

	CallbackBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongotrack_callback_batch_size",
			Help:    "Number of changes passed to one callback invocation",
			Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"collection", "path"},
	)

	CallbackErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongotrack_callback_errors_total",
			Help: "Total number of change callbacks that returned an error",
		},
		[]string{"collection", "path"},
	)

	PendingRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mongotrack_pending_records",
			Help: "Documents holding at least one pending shadow record, as last observed",
		},
		[]string{"collection"},
	)

	// Ledger Metrics
	LedgerRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongotrack_ledger_rows_written_total",
			Help: "Total number of ledger rows inserted",
		},
		[]string{"collection"},
	)

	LedgerRowsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongotrack_ledger_rows_closed_total",
			Help: "Total number of open ledger rows closed by a newer value",
		},
		[]string{"collection"},
	)

	LedgerWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongotrack_ledger_write_duration_seconds",
			Help:    "Duration of ledger bulk writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	LedgerWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongotrack_ledger_write_errors_total",
			Help: "Total number of failed ledger bulk writes",
		},
		[]string{"collection"},
	)

	// Event Publishing Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongotrack_events_published_total",
			Help: "Total number of change events published",
		},
		[]string{"collection"},
	)

	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongotrack_event_publish_errors_total",
			Help: "Total number of change events that could not be published",
		},
		[]string{"collection", "reason"}, // reason: "circuit_open", "publish", "marshal"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
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

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Application Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mongotrack_info",
			Help: "Application information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordWrite records one intercepted write and the number of tracked
// fields it touched.
func RecordWrite(collection, operation string, touched int, duration time.Duration) {
	WritesIntercepted.WithLabelValues(collection, operation, strconv.FormatBool(touched > 0)).Inc()
	TouchedFields.WithLabelValues(collection).Observe(float64(touched))
	WriteDuration.WithLabelValues(collection, operation).Observe(duration.Seconds())
}

// RecordDrain records a completed drain
func RecordDrain(collection string, changes int, duration time.Duration) {
	DrainDuration.WithLabelValues(collection).Observe(duration.Seconds())
	DrainedChanges.WithLabelValues(collection).Add(float64(changes))
}

// RecordDrainError records a drain that failed at stage
func RecordDrainError(collection, stage string) {
	DrainErrors.WithLabelValues(collection, stage).Inc()
}

// RecordCallback records one callback invocation
func RecordCallback(collection, path string, batch int, duration time.Duration, err error) {
	CallbackDuration.WithLabelValues(collection, path).Observe(duration.Seconds())
	CallbackBatchSize.WithLabelValues(collection, path).Observe(float64(batch))
	if err != nil {
		CallbackErrors.WithLabelValues(collection, path).Inc()
	}
}

// RecordLedgerWrite records a ledger bulk write
func RecordLedgerWrite(collection string, inserted, closed int64, duration time.Duration, err error) {
	LedgerWriteDuration.WithLabelValues(collection).Observe(duration.Seconds())
	if err != nil {
		LedgerWriteErrors.WithLabelValues(collection).Inc()
		return
	}
	LedgerRowsWritten.WithLabelValues(collection).Add(float64(inserted))
	LedgerRowsClosed.WithLabelValues(collection).Add(float64(closed))
}

// RecordEventPublished records a published change event
func RecordEventPublished(collection string) {
	EventsPublished.WithLabelValues(collection).Inc()
}

// RecordEventPublishError records a change event that was not published
func RecordEventPublishError(collection, reason string) {
	EventPublishErrors.WithLabelValues(collection, reason).Inc()
}

// SetPendingRecords sets the observed pending document count
func SetPendingRecords(collection string, count int64) {
	PendingRecords.WithLabelValues(collection).Set(float64(count))
}

// RecordCircuitBreakerRequest records the outcome of a call through a breaker
func RecordCircuitBreakerRequest(name, result string) {
	CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// RecordCircuitBreakerTransition records a state change and the new state
func RecordCircuitBreakerTransition(name, from, to string, state int) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRateLimitHit records a request rejected by the rate limiter
func RecordRateLimitHit(endpoint string) {
	APIRateLimitHits.WithLabelValues(endpoint).Inc()
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
