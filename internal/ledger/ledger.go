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
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/expr"
	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/metrics"
	"github.com/tomtom215/mongotrack/internal/store"
)

// Row is one persisted ledger row.
type Row struct {
	ID            bson.ObjectID `bson:"_id,omitempty" json:"id"`
	EntityID      any           `bson:"entityId" json:"entityId"`
	ItemID        any           `bson:"itemId,omitempty" json:"itemId,omitempty"`
	Path          string        `bson:"path" json:"path"`
	Start         time.Time     `bson:"start" json:"start"`
	End           *time.Time    `bson:"end" json:"end"`
	Value         any           `bson:"value" json:"value"`
	PreviousValue any           `bson:"previousValue,omitempty" json:"previousValue,omitempty"`
	NextValue     any           `bson:"nextValue,omitempty" json:"nextValue,omitempty"`
	Duration      *int64        `bson:"duration,omitempty" json:"durationMs,omitempty"`
	Origin        any           `bson:"origin,omitempty" json:"origin,omitempty"`
	Metadata      bson.M        `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// key identifies the open row of a (entity, item, path) triple.
func key(c change.Change) bson.D {
	k := bson.D{{Key: "entityId", Value: c.DocumentID}}
	if c.Record.ItemID != nil {
		k = append(k, bson.E{Key: "itemId", Value: c.Record.ItemID})
	}
	return append(k, bson.E{Key: "path", Value: c.Path})
}

// BuildOperations returns the close and insert models for one change, in
// that order. A change without a value yields none.
func BuildOperations(c change.Change, now time.Time) []mongo.WriteModel {
	if !c.Record.HasValue {
		return nil
	}
	start := c.Record.UpdatedAt
	if start.IsZero() {
		start = now
	}
	start = start.UTC()

	closeFilter := append(key(c), bson.E{Key: "end", Value: nil})
	closeRow := mongo.Pipeline{expr.Set(bson.D{
		{Key: "end", Value: start},
		{Key: "nextValue", Value: expr.Literal(c.Record.Value)},
		{Key: "duration", Value: bson.D{{Key: "$dateDiff", Value: bson.D{
			{Key: "startDate", Value: "$start"},
			{Key: "endDate", Value: start},
			{Key: "unit", Value: "millisecond"},
		}}}},
	})}

	row := append(key(c),
		bson.E{Key: "start", Value: start},
		bson.E{Key: "end", Value: nil},
		bson.E{Key: "value", Value: c.Record.Value},
	)
	if c.Record.HasPreviousValue {
		row = append(row, bson.E{Key: "previousValue", Value: c.Record.PreviousValue})
	}
	if c.Record.Origin != nil {
		row = append(row, bson.E{Key: "origin", Value: c.Record.Origin})
	}
	if len(c.Record.Metadata) > 0 {
		row = append(row, bson.E{Key: "metadata", Value: c.Record.Metadata})
	}

	return []mongo.WriteModel{
		mongo.NewUpdateManyModel().SetFilter(closeFilter).SetUpdate(closeRow),
		mongo.NewInsertOneModel().SetDocument(row),
	}
}

// Writer appends changes to ledger collections.
type Writer struct {
	db     store.Database
	prefix string
	now    func() time.Time
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithPrefix prepends prefix to every ledger collection name.
func WithPrefix(prefix string) WriterOption {
	return func(w *Writer) { w.prefix = prefix }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates a ledger writer over db.
func NewWriter(db store.Database, opts ...WriterOption) *Writer {
	w := &Writer{db: db, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CollectionName returns the physical name of a historize target.
func (w *Writer) CollectionName(target string) string {
	return w.prefix + target
}

// Append writes every change to the target collection in one ordered bulk
// write and returns the number of rows opened.
func (w *Writer) Append(ctx context.Context, target string, changes []change.Change) (int, error) {
	now := w.now()
	var models []mongo.WriteModel
	for _, c := range changes {
		models = append(models, BuildOperations(c, now)...)
	}
	if len(models) == 0 {
		return 0, nil
	}

	name := w.CollectionName(target)
	started := time.Now()
	res, err := w.db.Collection(name).BulkWrite(ctx, models, true)
	var inserted, closed int64
	if res != nil {
		inserted, closed = res.InsertedCount, res.ModifiedCount
	}
	metrics.RecordLedgerWrite(name, inserted, closed, time.Since(started), err)
	if err != nil {
		return int(inserted), fmt.Errorf("append to ledger %s: %w", name, err)
	}

	logging.Ctx(ctx).Debug().
		Str("ledger", name).
		Int64("opened", inserted).
		Int64("closed", closed).
		Msg("Ledger rows appended")
	return int(inserted), nil
}

// EnsureIndexes creates the open-row lookup and history indexes.
func (w *Writer) EnsureIndexes(ctx context.Context, target string) error {
	name := w.CollectionName(target)
	err := w.db.Collection(name).CreateIndexes(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "entityId", Value: 1}, {Key: "path", Value: 1}, {Key: "itemId", Value: 1}, {Key: "end", Value: 1}}},
		{Keys: bson.D{{Key: "entityId", Value: 1}, {Key: "path", Value: 1}, {Key: "start", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create ledger indexes on %s: %w", name, err)
	}
	return nil
}
