// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package track

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/tomtom215/mongotrack/internal/bsonutil"
	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/metrics"
	"github.com/tomtom215/mongotrack/internal/notify"
	"github.com/tomtom215/mongotrack/internal/projection"
	"github.com/tomtom215/mongotrack/internal/schema"
	"github.com/tomtom215/mongotrack/internal/store"
	"github.com/tomtom215/mongotrack/internal/update"
)

// Collection wraps a store collection and keeps the shadow records of its
// tracked fields up to date on every write.
type Collection struct {
	tracker *Tracker
	coll    store.Collection
	schema  schema.Schema
	fields  []schema.Field
	drained []schema.Field
	// keep lists the root shadow paths that survive replacements.
	keep []string
}

func newCollection(t *Tracker, s schema.Schema, fields []schema.Field) *Collection {
	c := &Collection{
		tracker: t,
		coll:    t.db.Collection(s.Collection),
		schema:  schema.WithInfoPaths(s, t.infoSuffix),
		fields:  fields,
		drained: projection.Drained(fields),
	}
	for _, f := range fields {
		if !f.Container().IsZero() {
			continue
		}
		c.keep = append(c.keep, f.InfoName())
		if !f.HistoryPath.IsZero() {
			c.keep = append(c.keep, f.HistoryName())
		}
	}
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.coll.Name() }

// Fields returns the resolved tracked fields.
func (c *Collection) Fields() []schema.Field {
	return append([]schema.Field(nil), c.fields...)
}

// Store returns the underlying collection, for reads.
func (c *Collection) Store() store.Collection { return c.coll }

func (c *Collection) begin(ctx context.Context, op string) context.Context {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	return logging.ContextWithOperation(ctx, c.Name(), op)
}

// write returns the values stamped by the operation running in ctx.
func (c *Collection) write(ctx context.Context, o writeOptions) projection.Write {
	return projection.Write{
		Origin: func(f schema.Field) any {
			if o.hasOrigin {
				return o.origin
			}
			if f.Origin != nil {
				return f.Origin(ctx)
			}
			return nil
		},
		CorrelationID: logging.CorrelationIDFromContext(ctx),
	}
}

// touched returns the fields whose value u may change.
func (c *Collection) touched(u any) []schema.Field {
	var out []schema.Field
	for _, f := range c.fields {
		if update.Touches(u, f.Path.String()) {
			out = append(out, f)
		}
	}
	return out
}

func paths(fields []schema.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Path.String()
	}
	return out
}

func anyDrained(fields []schema.Field) bool {
	for _, f := range fields {
		if f.Drained() {
			return true
		}
	}
	return false
}

// rewrite turns u into a pipeline ending with the change set of the fields
// it touches. The pipeline is nil when no tracked field is touched.
func (c *Collection) rewrite(ctx context.Context, filter, u any, o writeOptions) (mongo.Pipeline, []schema.Field, error) {
	if update.IsReplacement(u) {
		return nil, nil, fmt.Errorf("%s: %w: use FindOneAndReplace or a ReplaceOneModel to replace documents",
			c.Name(), update.ErrInvalidUpdate)
	}
	touched := c.touched(u)
	if len(touched) == 0 {
		return nil, nil, nil
	}
	p, err := update.ToPipeline(filter, u, o.arrayFilters)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", c.Name(), err)
	}
	stage, _ := projection.ChangeSet(touched, c.write(ctx, o))
	logging.Ctx(ctx).Debug().Strs("fields", paths(touched)).Msg("Tracked fields touched")
	return append(p, stage), touched, nil
}

// replacement turns doc into a pipeline keeping _id and the root shadow
// paths, followed by the change set of every field.
func (c *Collection) replacement(ctx context.Context, doc any, o writeOptions) (mongo.Pipeline, error) {
	p, err := update.Replacement(doc, c.keep)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name(), err)
	}
	if stage, ok := projection.ChangeSet(c.fields, c.write(ctx, o)); ok {
		p = append(p, stage)
	}
	return p, nil
}

// stamp adds an _id when missing and the initial shadow records.
func (c *Collection) stamp(ctx context.Context, doc any, o writeOptions) (bson.D, any, error) {
	d, err := bsonutil.ToD(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w: %v", c.Name(), update.ErrInvalidUpdate, err)
	}
	id, ok := bsonutil.Get(d, "_id")
	if !ok {
		id = bson.NewObjectID()
		d = append(bson.D{{Key: "_id", Value: id}}, d...)
	}
	pending := c.tracker.notifyOnInsert
	return projection.Initial(d, c.fields, c.write(ctx, o), c.tracker.now(), pending), id, nil
}

// after drains the collection once a write changed something.
func (c *Collection) after(ctx context.Context, changed int64, touched []schema.Field, scope bson.D) error {
	if changed == 0 || !anyDrained(touched) {
		return nil
	}
	_, err := c.tracker.coordinator.Drain(ctx, c.target(scope))
	return err
}

func (c *Collection) target(scope bson.D) notify.Target {
	return notify.Target{Collection: c.coll, Fields: c.fields, Scope: scope}
}

// InsertOne stamps the initial shadow records of doc and inserts it.
func (c *Collection) InsertOne(ctx context.Context, doc any, opts ...WriteOption) (*mongo.InsertOneResult, error) {
	o := collect(opts)
	if o.skip {
		return c.coll.InsertOne(ctx, doc)
	}
	ctx = c.begin(ctx, "InsertOne")
	started := time.Now()

	stamped, id, err := c.stamp(ctx, doc, o)
	if err != nil {
		return nil, err
	}
	res, err := c.coll.InsertOne(ctx, stamped)
	if err != nil {
		return nil, err
	}
	metrics.RecordWrite(c.Name(), "InsertOne", len(c.fields), time.Since(started))

	if !c.tracker.notifyOnInsert {
		return res, nil
	}
	return res, c.after(ctx, 1, c.fields, bson.D{{Key: "_id", Value: id}})
}

// InsertMany stamps the initial shadow records of every document and
// inserts them.
func (c *Collection) InsertMany(ctx context.Context, docs []any, opts ...WriteOption) (*mongo.InsertManyResult, error) {
	o := collect(opts)
	if o.skip {
		return c.coll.InsertMany(ctx, docs, o.ordered)
	}
	ctx = c.begin(ctx, "InsertMany")
	started := time.Now()

	stamped := make([]any, len(docs))
	ids := make(bson.A, len(docs))
	for i, doc := range docs {
		d, id, err := c.stamp(ctx, doc, o)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		stamped[i] = d
		ids[i] = id
	}
	res, err := c.coll.InsertMany(ctx, stamped, o.ordered)
	if err != nil {
		return res, err
	}
	metrics.RecordWrite(c.Name(), "InsertMany", len(c.fields), time.Since(started))

	if !c.tracker.notifyOnInsert {
		return res, nil
	}
	scope := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
	return res, c.after(ctx, int64(len(res.InsertedIDs)), c.fields, scope)
}

// UpdateOne updates the first matching document and drains its changes.
func (c *Collection) UpdateOne(ctx context.Context, filter, u any, opts ...WriteOption) (*mongo.UpdateResult, error) {
	return c.updateWith(ctx, "UpdateOne", c.coll.UpdateOne, filter, u, opts)
}

// UpdateMany updates every matching document and drains their changes.
func (c *Collection) UpdateMany(ctx context.Context, filter, u any, opts ...WriteOption) (*mongo.UpdateResult, error) {
	return c.updateWith(ctx, "UpdateMany", c.coll.UpdateMany, filter, u, opts)
}

type updateFunc func(ctx context.Context, filter, u any, opts store.UpdateOptions) (*mongo.UpdateResult, error)

func (c *Collection) updateWith(ctx context.Context, op string, fn updateFunc, filter, u any, opts []WriteOption) (*mongo.UpdateResult, error) {
	o := collect(opts)
	if o.skip {
		return fn(ctx, filter, u, store.UpdateOptions{Upsert: o.upsert, ArrayFilters: o.arrayFilters})
	}
	ctx = c.begin(ctx, op)
	started := time.Now()

	p, touched, err := c.rewrite(ctx, filter, u, o)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return fn(ctx, filter, u, store.UpdateOptions{Upsert: o.upsert, ArrayFilters: o.arrayFilters})
	}
	res, err := fn(ctx, filter, p, store.UpdateOptions{Upsert: o.upsert})
	if err != nil {
		return nil, err
	}
	metrics.RecordWrite(c.Name(), op, len(touched), time.Since(started))
	return res, c.after(ctx, res.ModifiedCount+res.UpsertedCount, touched, nil)
}

// FindOneAndUpdate updates one document and returns it, before the update
// unless WithReturnAfter is set. A nil document means nothing matched.
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, u any, opts ...WriteOption) (bson.Raw, error) {
	o := collect(opts)
	fo := store.FindOneAndUpdateOptions{
		Upsert:       o.upsert,
		ReturnAfter:  o.returnAfter,
		Projection:   o.projection,
		Sort:         o.sort,
		ArrayFilters: o.arrayFilters,
	}
	if o.skip {
		return c.coll.FindOneAndUpdate(ctx, filter, u, fo)
	}
	ctx = c.begin(ctx, "FindOneAndUpdate")
	started := time.Now()

	p, touched, err := c.rewrite(ctx, filter, u, o)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return c.coll.FindOneAndUpdate(ctx, filter, u, fo)
	}
	fo.ArrayFilters = nil
	doc, err := c.coll.FindOneAndUpdate(ctx, filter, p, fo)
	if err != nil {
		return nil, err
	}
	metrics.RecordWrite(c.Name(), "FindOneAndUpdate", len(touched), time.Since(started))
	// An upsert returns no document without ReturnAfter but still inserted one.
	if doc == nil && !o.upsert {
		return nil, nil
	}
	return doc, c.after(ctx, 1, touched, nil)
}

// FindOneAndReplace replaces one document and returns it. The stored _id
// and root shadow records survive the replacement, so the change set
// compares the new values against the recorded ones.
func (c *Collection) FindOneAndReplace(ctx context.Context, filter, replacement any, opts ...WriteOption) (bson.Raw, error) {
	o := collect(opts)
	fo := store.FindOneAndUpdateOptions{
		Upsert:      o.upsert,
		ReturnAfter: o.returnAfter,
		Projection:  o.projection,
		Sort:        o.sort,
	}
	if o.skip {
		p, err := update.Replacement(replacement, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name(), err)
		}
		return c.coll.FindOneAndUpdate(ctx, filter, p, fo)
	}
	ctx = c.begin(ctx, "FindOneAndReplace")
	started := time.Now()

	p, err := c.replacement(ctx, replacement, o)
	if err != nil {
		return nil, err
	}
	doc, err := c.coll.FindOneAndUpdate(ctx, filter, p, fo)
	if err != nil {
		return nil, err
	}
	if doc == nil && !o.upsert {
		return nil, nil
	}
	metrics.RecordWrite(c.Name(), "FindOneAndReplace", len(c.fields), time.Since(started))
	return doc, c.after(ctx, 1, c.fields, nil)
}

// Drain delivers every pending change of the collection.
func (c *Collection) Drain(ctx context.Context) (notify.Result, error) {
	ctx = c.begin(ctx, "Drain")
	return c.tracker.coordinator.Drain(ctx, c.target(nil))
}

// Pending counts documents holding at least one pending record.
func (c *Collection) Pending(ctx context.Context) (int64, error) {
	return c.tracker.coordinator.Pending(ctx, c.target(nil))
}
