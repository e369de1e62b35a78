// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/mongotrack/internal/ledger"
	"github.com/tomtom215/mongotrack/internal/track"
)

// Pinger checks database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the diagnostics endpoints.
type Handler struct {
	tracker   *track.Tracker
	pinger    Pinger
	startTime time.Time
}

// NewHandler creates a handler over a tracker. pinger may be nil, in which
// case health reports the database as unknown.
func NewHandler(tracker *track.Tracker, pinger Pinger) *Handler {
	return &Handler{
		tracker:   tracker,
		pinger:    pinger,
		startTime: time.Now(),
	}
}

// FieldInfo describes one tracked field.
type FieldInfo struct {
	Path                string `json:"path"`
	InfoPath            string `json:"infoPath"`
	Kind                string `json:"kind"`
	Drained             bool   `json:"drained"`
	HistorizeCollection string `json:"historizeCollection,omitempty"`
	Publish             bool   `json:"publish,omitempty"`
}

// CollectionInfo describes one tracked collection.
type CollectionInfo struct {
	Name   string      `json:"name"`
	Fields []FieldInfo `json:"fields"`
}

// PendingInfo is the pending count of one collection.
type PendingInfo struct {
	Collection string `json:"collection"`
	Pending    int64  `json:"pending"`
}

// Collections lists the tracked collections.
func (h *Handler) Collections(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	names := h.tracker.Names()
	out := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		c, err := h.tracker.Collection(name)
		if err != nil {
			// unregistered between Names and Collection
			continue
		}
		info := CollectionInfo{Name: name}
		for _, f := range c.Fields() {
			info.Fields = append(info.Fields, FieldInfo{
				Path:                f.Path.String(),
				InfoPath:            f.InfoPath.String(),
				Kind:                f.Kind.String(),
				Drained:             f.Drained(),
				HistorizeCollection: f.HistorizeCollection,
				Publish:             f.Publish,
			})
		}
		out = append(out, info)
	}
	rw.List(out, len(out))
}

// Pending counts the documents of a collection holding pending records.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	name, err := parseCollection(r)
	if err != nil {
		rw.RequestError(err)
		return
	}
	c, err := h.tracker.Collection(name)
	if errors.Is(err, track.ErrNotRegistered) {
		rw.NotFound("collection is not tracked: " + name)
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	n, err := c.Pending(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(PendingInfo{Collection: name, Pending: n})
}

// LedgerHistory returns ledger rows, newest first.
func (h *Handler) LedgerHistory(w http.ResponseWriter, r *http.Request) {
	h.ledger(w, r, (*ledger.Reader).History)
}

// LedgerOpen returns the open ledger rows.
func (h *Handler) LedgerOpen(w http.ResponseWriter, r *http.Request) {
	h.ledger(w, r, (*ledger.Reader).Open)
}

type ledgerQuery func(*ledger.Reader, context.Context, string, ledger.Query) ([]ledger.Row, error)

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request, query ledgerQuery) {
	rw := NewResponseWriter(w, r)

	req, err := parseLedgerRequest(r)
	if err != nil {
		rw.RequestError(err)
		return
	}
	rows, err := query(h.tracker.Ledger(), r.Context(), req.Collection, req.Query)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.List(rows, len(rows))
}
