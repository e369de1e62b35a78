// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package update

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/bsonutil"
	"github.com/tomtom215/mongotrack/internal/expr"
)

// leaf returns the expression computing the new value of a field from its
// current value for one operator.
func (b *builder) leaf(op string, v any) (leafFunc, bool, error) {
	switch op {
	case "$set":
		return func(string) any { return expr.Literal(v) }, false, nil
	case "$setOnInsert":
		inserting := b.insertPredicate()
		return func(cur string) any {
			return expr.Cond(inserting(cur), expr.Literal(v), cur)
		}, false, nil
	case "$unset":
		return nil, true, nil
	case "$inc":
		return func(cur string) any {
			return expr.Op("$add", bson.A{expr.IfNull(cur, 0), expr.Literal(v)})
		}, false, nil
	case "$mul":
		return func(cur string) any {
			return expr.Op("$multiply", bson.A{expr.IfNull(cur, 0), expr.Literal(v)})
		}, false, nil
	case "$min", "$max":
		cmp := "$lt"
		if op == "$max" {
			cmp = "$gt"
		}
		return func(cur string) any {
			lit := expr.Literal(v)
			return expr.Cond(
				expr.Or(expr.IsMissing(cur), expr.Op(cmp, bson.A{lit, cur})),
				lit,
				cur,
			)
		}, false, nil
	case "$currentDate":
		clock := expr.Now
		if d, ok := bsonutil.AsD(v); ok {
			if t, _ := bsonutil.Get(d, "$type"); t == "timestamp" {
				clock = "$$CLUSTER_TIME"
			}
		}
		return func(string) any { return clock }, false, nil
	case "$push":
		return b.push(v)
	case "$addToSet":
		each := eachValues(v)
		return func(cur string) any {
			return expr.Op("$reduce", bson.D{
				{Key: "input", Value: expr.Literal(each)},
				{Key: "initialValue", Value: expr.IfNull(cur, bson.A{})},
				{Key: "in", Value: expr.Cond(
					expr.Op("$in", bson.A{"$$this", "$$value"}),
					"$$value",
					expr.ConcatArrays("$$value", bson.A{"$$this"}),
				)},
			})
		}, false, nil
	case "$pull":
		return b.pull(v)
	case "$pullAll":
		arr, ok := bsonutil.AsA(v)
		if !ok {
			return nil, false, fmt.Errorf("%w: $pullAll expects an array", ErrInvalidUpdate)
		}
		name := b.names.Next("p")
		return func(cur string) any {
			return expr.Filter(expr.IfNull(cur, bson.A{}), name,
				expr.Not(expr.Op("$in", bson.A{expr.Var(name), expr.Literal(arr)})))
		}, false, nil
	case "$pop":
		first := false
		switch n := v.(type) {
		case int:
			first = n < 0
		case int32:
			first = n < 0
		case int64:
			first = n < 0
		case float64:
			first = n < 0
		}
		return func(cur string) any {
			arr := expr.IfNull(cur, bson.A{})
			size := expr.Op("$size", arr)
			var popped bson.D
			if first {
				popped = expr.Op("$slice", bson.A{arr, expr.Op("$subtract", bson.A{1, size})})
			} else {
				popped = expr.Op("$slice", bson.A{arr, expr.Op("$subtract", bson.A{size, 1})})
			}
			return expr.Cond(expr.Op("$gt", bson.A{size, 0}), popped, arr)
		}, false, nil
	default:
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}
}

// insertPredicate decides whether an upsert is inserting. The stored
// document always has an _id; an inserted one only gets it after the
// pipeline ran, unless the filter pins it. In that case the field itself
// being absent is used instead.
func (b *builder) insertPredicate() func(cur string) any {
	if _, pinned := bsonutil.Get(b.filter, "_id"); pinned {
		return func(cur string) any { return expr.IsMissing(cur) }
	}
	return func(string) any { return expr.IsMissing(expr.Field("_id")) }
}

func eachValues(v any) bson.A {
	if d, ok := bsonutil.AsD(v); ok {
		if each, ok := bsonutil.Get(d, "$each"); ok {
			if arr, ok := bsonutil.AsA(each); ok {
				return arr
			}
		}
	}
	return bson.A{v}
}

func (b *builder) push(v any) (leafFunc, bool, error) {
	each := eachValues(v)
	var position, slice, sortBy any
	if d, ok := bsonutil.AsD(v); ok {
		if _, hasEach := bsonutil.Get(d, "$each"); hasEach {
			position, _ = bsonutil.Get(d, "$position")
			slice, _ = bsonutil.Get(d, "$slice")
			sortBy, _ = bsonutil.Get(d, "$sort")
		}
	}

	return func(cur string) any {
		arr := expr.IfNull(cur, bson.A{})
		var out any = expr.ConcatArrays(arr, expr.Literal(each))

		if position != nil {
			size := expr.Op("$size", arr)
			at := any(position)
			if n, ok := toInt(position); ok && n < 0 {
				at = expr.Op("$max", bson.A{expr.Op("$add", bson.A{size, n}), 0})
			}
			out = expr.ConcatArrays(
				expr.Op("$slice", bson.A{arr, at}),
				expr.Literal(each),
				expr.Op("$slice", bson.A{arr, at, expr.Op("$max", bson.A{size, 1})}),
			)
		}
		if sortBy != nil {
			out = expr.Op("$sortArray", bson.D{{Key: "input", Value: out}, {Key: "sortBy", Value: sortBy}})
		}
		if slice != nil {
			if n, ok := toInt(slice); ok && n == 0 {
				return bson.D{{Key: "$literal", Value: bson.A{}}}
			}
			out = expr.Op("$slice", bson.A{out, slice})
		}
		return out
	}, false, nil
}

func (b *builder) pull(v any) (leafFunc, bool, error) {
	name := b.names.Next("p")
	ref := expr.Var(name)

	var match any
	if d, ok := bsonutil.AsD(v); ok {
		var err error
		if bsonutil.HasOperatorKeys(d) && !isLogical(d[0].Key) {
			match, err = b.m.field(ref, d)
		} else {
			var conds []any
			conds, err = b.m.query(ref, d, "")
			match = expr.And(append(conds, true)...)
		}
		if err != nil {
			return nil, false, err
		}
	} else {
		match = expr.Eq(ref, expr.Literal(v))
	}

	return func(cur string) any {
		return expr.Filter(expr.IfNull(cur, bson.A{}), name, expr.Not(match))
	}, false, nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
