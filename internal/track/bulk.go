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

	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/metrics"
	"github.com/tomtom215/mongotrack/internal/projection"
	"github.com/tomtom215/mongotrack/internal/schema"
	"github.com/tomtom215/mongotrack/internal/update"
)

// BulkWrite rewrites every sub-operation before sending the batch in one
// call. Inserted documents are stamped, updates get the change set of the
// fields they touch and replacements become pipeline updates. Deletes are
// sent as they are. The caller's models are not modified.
func (c *Collection) BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...WriteOption) (*mongo.BulkWriteResult, error) {
	o := collect(opts)
	if o.skip {
		return c.coll.BulkWrite(ctx, models, o.ordered)
	}
	ctx = c.begin(ctx, "BulkWrite")
	started := time.Now()

	out := make([]mongo.WriteModel, len(models))
	seen := make(map[string]bool)
	var touched []schema.Field
	note := func(fields []schema.Field) {
		for _, f := range fields {
			if !seen[f.Path.String()] {
				seen[f.Path.String()] = true
				touched = append(touched, f)
			}
		}
	}

	for i, m := range models {
		rewritten, fields, err := c.rewriteModel(ctx, m, o)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		out[i] = rewritten
		note(fields)
	}

	res, err := c.coll.BulkWrite(ctx, out, o.ordered)
	if err != nil {
		return res, err
	}
	metrics.RecordWrite(c.Name(), "BulkWrite", len(touched), time.Since(started))

	changed := res.ModifiedCount + res.UpsertedCount
	if c.tracker.notifyOnInsert {
		changed += res.InsertedCount
	}
	return res, c.after(ctx, changed, touched, nil)
}

// rewriteModel returns the tracked form of m and the fields it may change.
func (c *Collection) rewriteModel(ctx context.Context, m mongo.WriteModel, o writeOptions) (mongo.WriteModel, []schema.Field, error) {
	switch m := m.(type) {
	case *mongo.InsertOneModel:
		doc, _, err := c.stamp(ctx, m.Document, o)
		if err != nil {
			return nil, nil, err
		}
		var fields []schema.Field
		if c.tracker.notifyOnInsert {
			fields = c.fields
		}
		return mongo.NewInsertOneModel().SetDocument(doc), fields, nil

	case *mongo.UpdateOneModel:
		p, fields, err := c.rewrite(ctx, m.Filter, m.Update, withArrayFilters(o, m.ArrayFilters))
		if err != nil || p == nil {
			return m, nil, err
		}
		cp := *m
		cp.Update = p
		cp.ArrayFilters = nil
		return &cp, fields, nil

	case *mongo.UpdateManyModel:
		p, fields, err := c.rewrite(ctx, m.Filter, m.Update, withArrayFilters(o, m.ArrayFilters))
		if err != nil || p == nil {
			return m, nil, err
		}
		cp := *m
		cp.Update = p
		cp.ArrayFilters = nil
		return &cp, fields, nil

	case *mongo.ReplaceOneModel:
		p, err := c.replacement(ctx, m.Replacement, o)
		if err != nil {
			return nil, nil, err
		}
		return &mongo.UpdateOneModel{
			Collation: m.Collation,
			Upsert:    m.Upsert,
			Filter:    m.Filter,
			Update:    p,
			Hint:      m.Hint,
			Sort:      m.Sort,
		}, c.fields, nil
	}
	return m, nil, nil
}

func withArrayFilters(o writeOptions, filters []any) writeOptions {
	o.arrayFilters = filters
	return o
}

// Aggregate runs pipeline on the collection. When it ends with a $merge
// into a registered collection of the same database, the target's change
// set is appended to the merge's whenMatched pipeline and the target is
// drained afterwards. Other pipelines run unchanged.
func (c *Collection) Aggregate(ctx context.Context, pipeline mongo.Pipeline, opts ...WriteOption) ([]bson.Raw, error) {
	o := collect(opts)
	if o.skip {
		return c.coll.Aggregate(ctx, pipeline)
	}
	m, ok, err := update.FindMerge(pipeline)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name(), err)
	}
	if !ok {
		return c.coll.Aggregate(ctx, pipeline)
	}

	target, ok := c.mergeTarget(m)
	if !ok {
		logging.Debug().
			Str("collection", c.Name()).
			Str("into", m.Collection).
			Msg("Merge target is not tracked")
		return c.coll.Aggregate(ctx, pipeline)
	}

	ctx = target.begin(ctx, "Aggregate")
	started := time.Now()
	stage, ok := projection.ChangeSet(target.fields, target.write(ctx, o))
	if ok {
		if merged, expanded := update.WithMergeStage(pipeline, m, stage); expanded {
			pipeline = merged
		} else {
			ok = false
		}
	}

	docs, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil || !ok {
		return docs, err
	}
	metrics.RecordWrite(target.Name(), "Aggregate", len(target.fields), time.Since(started))
	_, err = target.tracker.coordinator.Drain(ctx, target.target(nil))
	return docs, err
}

func (c *Collection) mergeTarget(m update.Merge) (*Collection, bool) {
	if m.DB != "" && m.DB != c.tracker.db.Name() {
		return nil, false
	}
	return c.tracker.lookup(m.Collection)
}
