// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/ledger"
	"github.com/tomtom215/mongotrack/internal/validation"
)

// collectionParam holds the {collection} URL parameter.
type collectionParam struct {
	Collection string `validate:"required,collection"`
}

// ledgerRequest is a parsed ledger query.
type ledgerRequest struct {
	Collection string `validate:"required,collection"`
	Query      ledger.Query
}

func parseCollection(r *http.Request) (string, error) {
	p := collectionParam{Collection: chi.URLParam(r, "collection")}
	if verr := validation.ValidateStruct(p); verr != nil {
		return "", verr
	}
	return p.Collection, nil
}

func parseLedgerRequest(r *http.Request) (ledgerRequest, error) {
	q := r.URL.Query()
	req := ledgerRequest{
		Collection: chi.URLParam(r, "collection"),
		Query: ledger.Query{
			EntityID: identifier(q.Get("entityId")),
			ItemID:   identifier(q.Get("itemId")),
			Path:     q.Get("path"),
		},
	}

	var err error
	if req.Query.Since, err = parseTime(q.Get("since")); err != nil {
		return req, fmt.Errorf("since: %w", err)
	}
	if req.Query.Until, err = parseTime(q.Get("until")); err != nil {
		return req, fmt.Errorf("until: %w", err)
	}
	if s := q.Get("limit"); s != "" {
		if req.Query.Limit, err = strconv.ParseInt(s, 10, 64); err != nil {
			return req, ErrInvalidLimit
		}
	}

	if verr := validation.ValidateStruct(req); verr != nil {
		return req, verr
	}
	return req, nil
}

// identifier returns nil for an empty string, an ObjectID for a valid hex
// ObjectID and s otherwise.
func identifier(s string) any {
	if s == "" {
		return nil
	}
	if len(s) == 24 {
		if id, err := bson.ObjectIDFromHex(s); err == nil {
			return id
		}
	}
	return s
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, ErrInvalidTime
	}
	return t, nil
}
