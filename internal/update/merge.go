// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package update

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/tomtom215/mongotrack/internal/bsonutil"
	"github.com/tomtom215/mongotrack/internal/expr"
)

// Merge describes the trailing $merge stage of an aggregation.
type Merge struct {
	// DB is empty when the target is in the aggregation's database.
	DB         string
	Collection string
	// Spec is the normalized $merge document.
	Spec bson.D
}

// FindMerge returns the $merge stage ending pipeline, if any.
func FindMerge(pipeline mongo.Pipeline) (Merge, bool, error) {
	if len(pipeline) == 0 {
		return Merge{}, false, nil
	}
	last := pipeline[len(pipeline)-1]
	if len(last) != 1 || last[0].Key != "$merge" {
		return Merge{}, false, nil
	}

	if into, ok := last[0].Value.(string); ok {
		return Merge{Collection: into, Spec: bson.D{{Key: "into", Value: into}}}, true, nil
	}

	spec, ok := bsonutil.AsD(last[0].Value)
	if !ok {
		return Merge{}, false, fmt.Errorf("%w: $merge expects a document or a collection name", ErrInvalidUpdate)
	}
	spec = append(bson.D(nil), spec...)

	m := Merge{Spec: spec}
	into, _ := bsonutil.Get(spec, "into")
	switch target := into.(type) {
	case string:
		m.Collection = target
	default:
		d, ok := bsonutil.AsD(target)
		if !ok {
			return Merge{}, false, fmt.Errorf("%w: $merge.into missing", ErrInvalidUpdate)
		}
		db, _ := bsonutil.Get(d, "db")
		coll, _ := bsonutil.Get(d, "coll")
		m.DB, _ = db.(string)
		m.Collection, _ = coll.(string)
	}
	if m.Collection == "" {
		return Merge{}, false, fmt.Errorf("%w: $merge target collection missing", ErrInvalidUpdate)
	}
	return m, true, nil
}

// ExpandWhenMatched appends stage to a whenMatched value. The "merge"
// (also the default) and "replace" shorthands are first expanded into
// their pipeline form. It reports false when whenMatched leaves matched
// documents untouched ("keepExisting", "fail").
func ExpandWhenMatched(whenMatched any, stage bson.D) (any, bool) {
	switch wm := whenMatched.(type) {
	case nil:
		return mergePipeline(stage), true
	case string:
		switch wm {
		case "merge":
			return mergePipeline(stage), true
		case "replace":
			return bson.A{
				bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$$new"}}}},
				stage,
			}, true
		default:
			return whenMatched, false
		}
	}

	p, ok := AsPipeline(whenMatched)
	if !ok {
		return whenMatched, false
	}
	out := make(bson.A, 0, len(p)+1)
	for _, s := range p {
		out = append(out, s)
	}
	return append(out, stage), true
}

func mergePipeline(stage bson.D) bson.A {
	return bson.A{
		bson.D{{Key: "$replaceRoot", Value: bson.D{
			{Key: "newRoot", Value: expr.MergeObjects("$$ROOT", "$$new")},
		}}},
		stage,
	}
}

// WithMergeStage returns a copy of pipeline whose $merge whenMatched ends
// with stage. The pipeline is returned unchanged when the merge never
// updates matched documents.
func WithMergeStage(pipeline mongo.Pipeline, m Merge, stage bson.D) (mongo.Pipeline, bool) {
	wm, _ := bsonutil.Get(m.Spec, "whenMatched")
	expanded, ok := ExpandWhenMatched(wm, stage)
	if !ok {
		return pipeline, false
	}
	spec := bsonutil.Set(append(bson.D(nil), m.Spec...), "whenMatched", expanded)
	out := append(mongo.Pipeline(nil), pipeline[:len(pipeline)-1]...)
	return append(out, bson.D{{Key: "$merge", Value: spec}}), true
}
