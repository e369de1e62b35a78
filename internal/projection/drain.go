// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package projection

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/expr"
	"github.com/tomtom215/mongotrack/internal/schema"
)

const itemVar = "item"

// Alias is the projected key under which the drain reads a field.
func Alias(f schema.Field) string {
	return strings.ReplaceAll(f.Path.String(), ".", "_")
}

// DrainFilter matches documents holding at least one pending record of
// the drained fields. It reports false when no field is drained.
func DrainFilter(fields []schema.Field) (bson.D, bool) {
	drained := Drained(fields)
	if len(drained) == 0 {
		return nil, false
	}
	clauses := make(bson.A, 0, len(drained))
	for _, f := range drained {
		clauses = append(clauses, bson.D{{Key: f.InfoPath.Child(change.KeyChangePending).String(), Value: true}})
	}
	if len(clauses) == 1 {
		return clauses[0].(bson.D), true
	}
	return bson.D{{Key: "$or", Value: clauses}}, true
}

// DrainProjection reads the pending records of the drained fields. A field
// outside arrays projects its record or null. A field inside an array
// projects the list of pending element records, each carrying the
// element's _id as itemId. Metadata values are expressions: root fields
// are referenced as "$code" and the array element as "$$item.code".
func DrainProjection(fields []schema.Field) bson.D {
	proj := bson.D{{Key: "_id", Value: 1}}
	for _, f := range Drained(fields) {
		proj = append(proj, bson.E{Key: Alias(f), Value: drainExpr(f)})
	}
	return proj
}

func drainExpr(f schema.Field) any {
	if len(f.Arrays) == 0 {
		info := expr.Field(f.InfoPath.String())
		parts := bson.A{info}
		if c := f.Container(); !c.IsZero() {
			parts = append(parts, bson.D{{Key: change.KeyItemID, Value: expr.Field(c.Child("_id").String())}})
		}
		parts = append(parts, metadata(f)...)
		return expr.Cond(
			expr.Eq(expr.At(info, change.KeyChangePending), true),
			expr.MergeObjects(parts...),
			nil,
		)
	}

	arr := f.ArrayPath()
	rel, _ := f.InfoPath.TrimPrefix(arr)
	ref := expr.Field(arr.String())
	info := expr.Var(itemVar, rel.String())

	parts := bson.A{info, bson.D{{Key: change.KeyItemID, Value: expr.Var(itemVar, "_id")}}}
	parts = append(parts, metadata(f)...)

	pending := expr.Filter(ref, itemVar, expr.Eq(expr.At(info, change.KeyChangePending), true))
	return expr.Cond(
		expr.IsArray(ref),
		expr.Map(pending, itemVar, expr.MergeObjects(parts...)),
		bson.A{},
	)
}

func metadata(f schema.Field) bson.A {
	if len(f.Metadata) == 0 {
		return nil
	}
	return bson.A{bson.D{{Key: change.KeyMetadata, Value: f.Metadata}}}
}

// Decode extracts the drained changes from one document returned with
// DrainProjection. Changes are ordered by field, then by array element.
func Decode(doc bson.Raw, fields []schema.Field) ([]change.Change, error) {
	var id any
	if rv, err := doc.LookupErr("_id"); err == nil {
		if err := rv.Unmarshal(&id); err != nil {
			return nil, fmt.Errorf("decode _id: %w", err)
		}
	}

	var out []change.Change
	for _, f := range Drained(fields) {
		rv, err := doc.LookupErr(Alias(f))
		if err != nil {
			continue
		}

		var records []bson.Raw
		switch rv.Type {
		case bson.TypeEmbeddedDocument:
			records = append(records, rv.Document())
		case bson.TypeArray:
			values, err := rv.Array().Values()
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", f.Path, err)
			}
			for _, v := range values {
				if v.Type == bson.TypeEmbeddedDocument {
					records = append(records, v.Document())
				}
			}
		}

		for _, raw := range records {
			rec, err := change.DecodeRecord(raw)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", f.Path, err)
			}
			out = append(out, change.Change{
				DocumentID: id,
				Collection: f.Collection,
				Path:       f.Path.String(),
				Record:     rec,
			})
		}
	}
	return out, nil
}
