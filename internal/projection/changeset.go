// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package projection builds the pipeline stages that maintain and read
// shadow info records.
//
// Every tracked field f has a sibling record f<suffix> holding its current
// value, the value before the last change, both timestamps, the origin of
// the write and the changePending flag. The change-set stage runs after a
// write's own stages and refreshes the records of the fields whose value
// no longer matches the recorded one. The drain projection reads pending
// records and the clear stage resets their flag.
package projection

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/expr"
	"github.com/tomtom215/mongotrack/internal/schema"
)

// Write carries the per-write values stamped into shadow records.
type Write struct {
	// Origin returns the origin recorded for f. A nil result omits it.
	Origin func(f schema.Field) any
	// CorrelationID is stamped on every record the write changes.
	CorrelationID string
}

func (w Write) origin(f schema.Field) any {
	if w.Origin == nil {
		return nil
	}
	return w.Origin(f)
}

// ChangeSet returns the $set stage refreshing the shadow records of
// fields, or false when fields is empty. A record changes only when the
// field value differs from the recorded value, so unchanged fields and
// unchanged array elements are left as they are.
func ChangeSet(fields []schema.Field, w Write) (bson.D, bool) {
	if len(fields) == 0 {
		return nil, false
	}
	return expr.Set(compose(fields, w.changeStep)), true
}

func (w Write) changeStep(x string, f schema.Field) (any, bson.D) {
	value := expr.At(x, f.Name())
	info := expr.At(x, f.InfoName())
	when := expr.Ne(value, expr.At(info, change.KeyValue))

	rec := bson.D{
		{Key: change.KeyValue, Value: value},
		{Key: change.KeyUpdatedAt, Value: expr.Now},
		{Key: change.KeyPreviousValue, Value: expr.At(info, change.KeyValue)},
		{Key: change.KeyPreviousUpdatedAt, Value: expr.At(info, change.KeyUpdatedAt)},
	}
	origin := w.origin(f)
	if origin != nil {
		rec = append(rec, bson.E{Key: change.KeyOrigin, Value: expr.Literal(origin)})
	}
	rec = append(rec, bson.E{Key: change.KeyChangePending, Value: f.Consumer()})
	if w.CorrelationID != "" {
		rec = append(rec, bson.E{Key: change.KeyCorrelationID, Value: w.CorrelationID})
	}

	set := bson.D{{Key: f.InfoName(), Value: rec}}
	if !f.HistoryPath.IsZero() {
		hist := expr.At(x, f.HistoryName())
		entry := bson.A{expr.Op("$toLong", expr.Now), value, expr.Literal(origin)}
		set = append(set, bson.E{
			Key:   f.HistoryName(),
			Value: expr.ConcatArrays(expr.IfNull(hist, bson.A{}), bson.A{entry}),
		})
	}
	return when, set
}

// Clear returns the $set stage resetting changePending on the records a
// drain read from one document, or false when read holds none of the
// drained fields. A record is reset only while it still carries the
// correlationId and updatedAt it was read with, so a write that re-tags
// it after the read stays pending.
func Clear(fields []schema.Field, read []change.Change) (bson.D, bool) {
	pins := make(map[string]bson.A)
	for _, c := range read {
		pins[c.Path] = append(pins[c.Path], Token(c.Record))
	}
	var drained []schema.Field
	for _, f := range Drained(fields) {
		if len(pins[f.Path.String()]) > 0 {
			drained = append(drained, f)
		}
	}
	if len(drained) == 0 {
		return nil, false
	}
	clearStep := func(x string, f schema.Field) (any, bson.D) {
		info := expr.At(x, f.InfoName())
		when := expr.And(
			expr.Eq(expr.At(info, change.KeyChangePending), true),
			expr.Op("$in", bson.A{recordToken(info), expr.Literal(pins[f.Path.String()])}),
		)
		return when, bson.D{{
			Key:   f.InfoName(),
			Value: expr.MergeObjects(info, bson.D{{Key: change.KeyChangePending, Value: false}}),
		}}
	}
	return expr.Set(compose(drained, clearStep)), true
}

// Token identifies the state of a shadow record: the correlationId and
// updatedAt of the write that last changed it. Absent parts are null.
func Token(r change.Record) bson.A {
	var id, at any
	if r.CorrelationID != "" {
		id = r.CorrelationID
	}
	if !r.UpdatedAt.IsZero() {
		at = r.UpdatedAt
	}
	return bson.A{id, at}
}

// recordToken is Token evaluated on the record at info. Missing parts
// evaluate to null inside the array.
func recordToken(info string) bson.A {
	return bson.A{expr.At(info, change.KeyCorrelationID), expr.At(info, change.KeyUpdatedAt)}
}

// Drained returns the fields read and cleared by the drain.
func Drained(fields []schema.Field) []schema.Field {
	var out []schema.Field
	for _, f := range fields {
		if f.Drained() {
			out = append(out, f)
		}
	}
	return out
}
