// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

/*
Package metrics provides Prometheus metrics collection and export for observability.

All collectors are registered on the default registry through promauto and
exposed by the diagnostics API at /metrics:

	curl http://localhost:9464/metrics

# Available Metrics

Write Interception:
  - mongotrack_writes_intercepted_total: Intercepted writes (counter)
    Labels: collection, operation, tracked
  - mongotrack_touched_fields: Tracked fields touched per write (histogram)
    Labels: collection
  - mongotrack_write_duration_seconds: Write latency including the drain (histogram)
    Labels: collection, operation

Drain:
  - mongotrack_drain_duration_seconds: Drain latency (histogram)
  - mongotrack_drained_changes_total: Changes read and cleared (counter)
  - mongotrack_drain_errors_total: Failed drains (counter)
    Labels: collection, stage (find, clear, callback, ledger, publish)
  - mongotrack_callback_duration_seconds, mongotrack_callback_batch_size,
    mongotrack_callback_errors_total
    Labels: collection, path
  - mongotrack_pending_records: Documents with pending records (gauge)

Ledger:
  - mongotrack_ledger_rows_written_total, mongotrack_ledger_rows_closed_total
  - mongotrack_ledger_write_duration_seconds, mongotrack_ledger_write_errors_total
    Labels: collection (the ledger collection)

Events:
  - mongotrack_events_published_total
  - mongotrack_event_publish_errors_total
    Labels: collection, reason (circuit_open, publish, marshal)

Circuit Breaker Metrics:
  - circuit_breaker_state: Current state (gauge)
    Labels: name
    Values: 0=closed, 1=half-open, 2=open
  - circuit_breaker_requests_total, circuit_breaker_state_transitions_total

API:
  - api_requests_total, api_request_duration_seconds, api_active_requests,
    api_rate_limit_hits_total

# Usage

	start := time.Now()
	// ... drain ...
	metrics.RecordDrain("articles", len(changes), time.Since(start))
*/
package metrics
