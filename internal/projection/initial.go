// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package projection

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/bsonutil"
	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/schema"
)

// Initial returns a copy of doc with the shadow records of the fields it
// holds, as stamped by an insert. Fields absent from doc get no record.
// Records are left pending only when pending is set and the field has a
// consumer. Fields inside arrays are stamped on every element.
func Initial(doc bson.D, fields []schema.Field, w Write, now time.Time, pending bool) bson.D {
	out := append(bson.D(nil), doc...)
	now = now.UTC()
	for _, f := range fields {
		stamp := initialStamp(f, w, now, pending && f.Consumer())
		if v, ok := within(out, f.Container().Segments(), stamp).(bson.D); ok {
			out = v
		}
	}
	return out
}

func initialStamp(f schema.Field, w Write, now time.Time, pending bool) func(bson.D) bson.D {
	origin := w.origin(f)
	return func(d bson.D) bson.D {
		v, ok := bsonutil.Get(d, f.Name())
		if !ok {
			return d
		}
		rec := bson.D{
			{Key: change.KeyValue, Value: v},
			{Key: change.KeyUpdatedAt, Value: now},
		}
		if origin != nil {
			rec = append(rec, bson.E{Key: change.KeyOrigin, Value: origin})
		}
		rec = append(rec, bson.E{Key: change.KeyChangePending, Value: pending})
		if w.CorrelationID != "" {
			rec = append(rec, bson.E{Key: change.KeyCorrelationID, Value: w.CorrelationID})
		}
		d = bsonutil.Set(d, f.InfoName(), rec)
		if !f.HistoryPath.IsZero() {
			d = bsonutil.Set(d, f.HistoryName(), bson.A{bson.A{now.UnixMilli(), v, origin}})
		}
		return d
	}
}

// within applies fn to the documents found at segs below v, descending
// into every element of the arrays met on the way.
func within(v any, segs []string, fn func(bson.D) bson.D) any {
	if arr, ok := bsonutil.AsA(v); ok {
		out := make(bson.A, len(arr))
		for i, item := range arr {
			out[i] = within(item, segs, fn)
		}
		return out
	}
	d, ok := bsonutil.AsD(v)
	if !ok {
		return v
	}
	d = append(bson.D(nil), d...)
	if len(segs) == 0 {
		return fn(d)
	}
	child, ok := bsonutil.Get(d, segs[0])
	if !ok {
		return d
	}
	return bsonutil.Set(d, segs[0], within(child, segs[1:], fn))
}
