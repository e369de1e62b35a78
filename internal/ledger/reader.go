// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package ledger

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/store"
)

// DefaultLimit caps History results when the query sets no limit.
const DefaultLimit = 100

// Query selects ledger rows. Zero fields do not filter.
type Query struct {
	EntityID any
	ItemID   any
	Path     string    `validate:"omitempty,max=512"`
	Since    time.Time // rows starting at or after
	Until    time.Time // rows starting before
	Limit    int64     `validate:"min=0,max=1000"`
}

func (q Query) filter() bson.D {
	var f bson.D
	if q.EntityID != nil {
		f = append(f, bson.E{Key: "entityId", Value: q.EntityID})
	}
	if q.ItemID != nil {
		f = append(f, bson.E{Key: "itemId", Value: q.ItemID})
	}
	if q.Path != "" {
		f = append(f, bson.E{Key: "path", Value: q.Path})
	}
	var start bson.D
	if !q.Since.IsZero() {
		start = append(start, bson.E{Key: "$gte", Value: q.Since.UTC()})
	}
	if !q.Until.IsZero() {
		start = append(start, bson.E{Key: "$lt", Value: q.Until.UTC()})
	}
	if start != nil {
		f = append(f, bson.E{Key: "start", Value: start})
	}
	if f == nil {
		f = bson.D{}
	}
	return f
}

// Reader queries ledger collections.
type Reader struct {
	db     store.Database
	prefix string
}

// NewReader creates a reader. prefix matches the writer's WithPrefix.
func NewReader(db store.Database, prefix string) *Reader {
	return &Reader{db: db, prefix: prefix}
}

// History returns matching rows, newest first.
func (r *Reader) History(ctx context.Context, target string, q Query) ([]Row, error) {
	limit := q.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	return r.find(ctx, target, q.filter(), store.FindOptions{
		Sort:  bson.D{{Key: "start", Value: -1}},
		Limit: limit,
	})
}

// Open returns the currently open rows matching q.
func (r *Reader) Open(ctx context.Context, target string, q Query) ([]Row, error) {
	f := append(q.filter(), bson.E{Key: "end", Value: nil})
	return r.find(ctx, target, f, store.FindOptions{
		Sort:  bson.D{{Key: "entityId", Value: 1}, {Key: "path", Value: 1}},
		Limit: q.Limit,
	})
}

func (r *Reader) find(ctx context.Context, target string, filter bson.D, opts store.FindOptions) ([]Row, error) {
	name := r.prefix + target
	docs, err := r.db.Collection(name).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query ledger %s: %w", name, err)
	}
	rows := make([]Row, 0, len(docs))
	for _, doc := range docs {
		var row Row
		if err := bson.Unmarshal(doc, &row); err != nil {
			return nil, fmt.Errorf("decode ledger row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
