// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/ledger"
	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/metrics"
	"github.com/tomtom215/mongotrack/internal/projection"
	"github.com/tomtom215/mongotrack/internal/schema"
	"github.com/tomtom215/mongotrack/internal/store"
)

// Publisher delivers drained changes outside the process.
type Publisher interface {
	Publish(ctx context.Context, changes []change.Change) error
}

// Target is one drain request.
type Target struct {
	Collection store.Collection
	// Fields are the resolved fields of the collection. Only drained
	// fields are read.
	Fields []schema.Field
	// Scope narrows the documents examined, for example to the _ids just
	// inserted. Nil examines every pending document.
	Scope bson.D
}

// Result summarizes one drain.
type Result struct {
	Documents  int
	Changes    int
	Cleared    int64
	LedgerRows int
	Published  int
}

// Coordinator runs drains.
type Coordinator struct {
	ledger    *ledger.Writer
	publisher Publisher
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher publishes the changes of fields marked Publish.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// NewCoordinator creates a coordinator appending historized changes with w.
func NewCoordinator(w *ledger.Writer, opts ...Option) *Coordinator {
	c := &Coordinator{ledger: w}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func pendingFilter(t Target, fields []schema.Field) (bson.D, bool) {
	pending, ok := projection.DrainFilter(fields)
	if !ok {
		return nil, false
	}
	if len(t.Scope) == 0 {
		return pending, true
	}
	return bson.D{{Key: "$and", Value: bson.A{t.Scope, pending}}}, true
}

// Pending counts documents holding at least one pending record.
func (c *Coordinator) Pending(ctx context.Context, t Target) (int64, error) {
	filter, ok := pendingFilter(t, t.Fields)
	if !ok {
		return 0, nil
	}
	n, err := t.Collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count pending %s: %w", t.Collection.Name(), err)
	}
	metrics.SetPendingRecords(t.Collection.Name(), n)
	return n, nil
}

// Drain reads, clears and delivers the pending changes of t.
func (c *Coordinator) Drain(ctx context.Context, t Target) (Result, error) {
	var res Result
	name := t.Collection.Name()
	fields := projection.Drained(t.Fields)
	filter, ok := pendingFilter(t, fields)
	if !ok {
		return res, nil
	}
	started := time.Now()

	docs, err := t.Collection.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$project", Value: projection.DrainProjection(fields)}},
	})
	if err != nil {
		return res, c.fail(ctx, name, StageFind, err)
	}
	if len(docs) == 0 {
		return res, nil
	}
	res.Documents = len(docs)

	var models []mongo.WriteModel
	var changes []change.Change
	for _, doc := range docs {
		rv, err := doc.LookupErr("_id")
		if err != nil {
			return res, c.fail(ctx, name, StageDecode, errors.New("drained document without _id"))
		}
		var id any
		if err := rv.Unmarshal(&id); err != nil {
			return res, c.fail(ctx, name, StageDecode, err)
		}
		decoded, err := projection.Decode(doc, fields)
		if err != nil {
			return res, c.fail(ctx, name, StageDecode, err)
		}
		changes = append(changes, decoded...)
		if stage, ok := projection.Clear(fields, decoded); ok {
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.D{{Key: "_id", Value: id}}).
				SetUpdate(mongo.Pipeline{stage}))
		}
	}
	res.Changes = len(changes)

	if len(models) > 0 {
		cleared, err := t.Collection.BulkWrite(ctx, models, false)
		if err != nil {
			return res, c.fail(ctx, name, StageClear, err)
		}
		res.Cleared = cleared.ModifiedCount
	}

	byPath := make(map[string][]change.Change, len(fields))
	for _, ch := range changes {
		byPath[ch.Path] = append(byPath[ch.Path], ch)
	}

	var errs []error
	errs = append(errs, c.dispatch(ctx, name, fields, byPath)...)

	rows, err := c.historize(ctx, fields, byPath)
	res.LedgerRows = rows
	if err != nil {
		errs = append(errs, c.fail(ctx, name, StageLedger, err))
	}

	published, err := c.publish(ctx, fields, byPath)
	res.Published = published
	if err != nil {
		errs = append(errs, c.fail(ctx, name, StagePublish, err))
	}

	metrics.RecordDrain(name, res.Changes, time.Since(started))
	logging.Ctx(ctx).Debug().
		Int("documents", res.Documents).
		Int("changes", res.Changes).
		Int64("cleared", res.Cleared).
		Msg("Drain complete")
	return res, errors.Join(errs...)
}

// dispatch calls each field's handler once with its batch. A failing
// handler does not prevent dispatch to the others.
func (c *Coordinator) dispatch(ctx context.Context, name string, fields []schema.Field, byPath map[string][]change.Change) []error {
	var errs []error
	for _, f := range fields {
		batch := byPath[f.Path.String()]
		if f.OnChange == nil || len(batch) == 0 {
			continue
		}
		started := time.Now()
		err := f.OnChange(ctx, batch)
		metrics.RecordCallback(name, f.Path.String(), len(batch), time.Since(started), err)
		if err != nil {
			errs = append(errs, c.fail(ctx, name, StageCallback, fmt.Errorf("%s: %w", f.Path, err)))
		}
	}
	return errs
}

func (c *Coordinator) historize(ctx context.Context, fields []schema.Field, byPath map[string][]change.Change) (int, error) {
	if c.ledger == nil {
		return 0, nil
	}
	var order []string
	targets := make(map[string][]change.Change)
	for _, f := range fields {
		batch := byPath[f.Path.String()]
		if f.HistorizeCollection == "" || len(batch) == 0 {
			continue
		}
		if _, seen := targets[f.HistorizeCollection]; !seen {
			order = append(order, f.HistorizeCollection)
		}
		targets[f.HistorizeCollection] = append(targets[f.HistorizeCollection], batch...)
	}

	var rows int
	var errs []error
	for _, target := range order {
		n, err := c.ledger.Append(ctx, target, targets[target])
		rows += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return rows, errors.Join(errs...)
}

func (c *Coordinator) publish(ctx context.Context, fields []schema.Field, byPath map[string][]change.Change) (int, error) {
	if c.publisher == nil {
		return 0, nil
	}
	var out []change.Change
	for _, f := range fields {
		if f.Publish {
			out = append(out, byPath[f.Path.String()]...)
		}
	}
	if len(out) == 0 {
		return 0, nil
	}
	if err := c.publisher.Publish(ctx, out); err != nil {
		return 0, err
	}
	return len(out), nil
}

func (c *Coordinator) fail(ctx context.Context, name, stage string, err error) error {
	metrics.RecordDrainError(name, stage)
	logging.CtxErr(ctx, err).Str("collection", name).Str("stage", stage).Msg("Drain failed")
	return &DrainError{Collection: name, Stage: stage, Err: err}
}
