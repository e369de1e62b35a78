// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

/*
Package middleware provides HTTP middleware for the diagnostics API.

  - RequestID: reuses or generates an X-Request-ID and attaches request and
    correlation IDs to the logging context
  - PrometheusMetrics: request counts, latencies and in-flight gauge, labeled
    by the matched chi route pattern so path parameters do not create new
    series

Both have the func(http.Handler) http.Handler shape used by chi's r.Use.
*/
package middleware
