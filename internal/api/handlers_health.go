// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/mongotrack/internal/logging"
)

const pingTimeout = 2 * time.Second

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status            string  `json:"status"`
	DatabaseConnected *bool   `json:"databaseConnected,omitempty"`
	Collections       int     `json:"collections"`
	Uptime            float64 `json:"uptimeSeconds"`
}

// Health reports database reachability. An unreachable database answers
// 503 so load balancers can act on the status code alone.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	health := HealthStatus{
		Status:      "healthy",
		Collections: len(h.tracker.Names()),
		Uptime:      time.Since(h.startTime).Seconds(),
	}

	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()

		connected := true
		if err := h.pinger.Ping(ctx); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Health check ping failed")
			connected = false
			health.Status = "degraded"
		}
		health.DatabaseConnected = &connected
	}

	if health.Status != "healthy" {
		rw.writeJSON(http.StatusServiceUnavailable, APIResponse{Success: false, Data: health, Meta: rw.meta()})
		return
	}
	rw.Success(health)
}
