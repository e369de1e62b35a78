// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package update

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/bsonutil"
	"github.com/tomtom215/mongotrack/internal/expr"
)

// MatchExpr translates a query document into an aggregation expression
// evaluated against base, a field or variable reference ("" for the root).
func MatchExpr(base string, query bson.D) (any, error) {
	m := matcher{names: &expr.Namer{}}
	conds, err := m.query(base, query, "")
	if err != nil {
		return nil, err
	}
	if len(conds) == 0 {
		return true, nil
	}
	return expr.And(conds...), nil
}

type matcher struct {
	names *expr.Namer
}

// query translates the conditions of q. When strip is set, only keys equal
// to strip or below it are kept and they are rebased onto base; other keys
// are ignored.
func (m matcher) query(base string, q bson.D, strip string) ([]any, error) {
	var conds []any
	for _, e := range q {
		switch e.Key {
		case "$and", "$or", "$nor":
			c, ok, err := m.logical(base, e.Key, e.Value, strip)
			if err != nil {
				return nil, err
			}
			if ok {
				conds = append(conds, c)
			}
		case "$comment":
		default:
			if strings.HasPrefix(e.Key, "$") {
				if strip != "" {
					continue
				}
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, e.Key)
			}
			if strip != "" && e.Key == strip {
				// {array: {$elemMatch: q}} selects the element q matches.
				if sub, ok := elemMatchOf(e.Value); ok {
					c, err := m.element(base, sub)
					if err != nil {
						return nil, err
					}
					conds = append(conds, c)
					continue
				}
			}
			ref, ok := rebase(base, e.Key, strip)
			if !ok {
				continue
			}
			c, err := m.field(ref, e.Value)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
	}
	return conds, nil
}

func (m matcher) logical(base, op string, v any, strip string) (any, bool, error) {
	arr, ok := bsonutil.AsA(v)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s expects an array", ErrInvalidUpdate, op)
	}
	subs := make([]any, 0, len(arr))
	for _, item := range arr {
		d, ok := bsonutil.AsD(item)
		if !ok {
			return nil, false, fmt.Errorf("%w: %s expects documents", ErrInvalidUpdate, op)
		}
		c, err := m.query(base, d, strip)
		if err != nil {
			return nil, false, err
		}
		if len(c) == 0 {
			if op == "$and" {
				continue
			}
			// A branch unrelated to the rebased path makes the whole
			// disjunction unrelated.
			return nil, false, nil
		}
		subs = append(subs, expr.And(c...))
	}
	if len(subs) == 0 {
		return nil, false, nil
	}
	switch op {
	case "$or":
		return expr.Or(subs...), true, nil
	case "$nor":
		return expr.Not(expr.Or(subs...)), true, nil
	default:
		return expr.And(subs...), true, nil
	}
}

func rebase(base, key, strip string) (string, bool) {
	if strip == "" {
		return expr.At(base, key), true
	}
	if key == strip {
		if base == "" {
			return "$$ROOT", true
		}
		return base, true
	}
	if rest, ok := strings.CutPrefix(key, strip+"."); ok {
		return expr.At(base, rest), true
	}
	return "", false
}

// field translates the condition on one field reference.
func (m matcher) field(ref string, v any) (any, error) {
	if re, ok := v.(bson.Regex); ok {
		return regexMatch(ref, re.Pattern, re.Options), nil
	}
	d, ok := bsonutil.AsD(v)
	if !ok || !bsonutil.HasOperatorKeys(d) {
		return equals(ref, v), nil
	}

	var conds []any
	for _, op := range d {
		c, err := m.operator(ref, op.Key, op.Value, d)
		if err != nil {
			return nil, err
		}
		if c != nil {
			conds = append(conds, c)
		}
	}
	if len(conds) == 0 {
		return true, nil
	}
	return expr.And(conds...), nil
}

func (m matcher) operator(ref, op string, v any, siblings bson.D) (any, error) {
	switch op {
	case "$eq":
		return equals(ref, v), nil
	case "$ne":
		return expr.Not(equals(ref, v)), nil
	case "$gt", "$gte":
		return expr.Op(op, bson.A{ref, expr.Literal(v)}), nil
	case "$lt", "$lte":
		cmp := expr.Op(op, bson.A{ref, expr.Literal(v)})
		if v == nil {
			return cmp, nil
		}
		// Missing and null sort below every value; the query language does
		// not match them with $lt.
		return expr.And(expr.Op("$gt", bson.A{ref, nil}), cmp), nil
	case "$in", "$nin":
		arr, ok := bsonutil.AsA(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects an array", ErrInvalidUpdate, op)
		}
		in := expr.Op("$in", bson.A{ref, expr.Literal(arr)})
		if op == "$nin" {
			return expr.Not(in), nil
		}
		return in, nil
	case "$exists":
		if truthy(v) {
			return expr.Not(expr.IsMissing(ref)), nil
		}
		return expr.IsMissing(ref), nil
	case "$not":
		c, err := m.field(ref, v)
		if err != nil {
			return nil, err
		}
		return expr.Not(c), nil
	case "$elemMatch":
		sub, ok := bsonutil.AsD(v)
		if !ok {
			return nil, fmt.Errorf("%w: $elemMatch expects a document", ErrInvalidUpdate)
		}
		name := m.names.Next("m")
		c, err := m.element(expr.Var(name), sub)
		if err != nil {
			return nil, err
		}
		return expr.Op("$anyElementTrue", bson.A{expr.Map(arrayOrEmpty(ref), name, c)}), nil
	case "$size":
		return expr.And(expr.IsArray(ref), expr.Eq(expr.Op("$size", arrayOrEmpty(ref)), v)), nil
	case "$regex":
		pattern, _ := v.(string)
		if re, ok := v.(bson.Regex); ok {
			pattern = re.Pattern
		}
		opts, _ := bsonutil.Get(siblings, "$options")
		s, _ := opts.(string)
		return regexMatch(ref, pattern, s), nil
	case "$options":
		return nil, nil
	case "$type":
		return typeMatch(ref, v), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}
}

// element translates an $elemMatch query against one array element at
// ref. Operator queries apply to the element value, field queries to its
// fields.
func (m matcher) element(ref string, sub bson.D) (any, error) {
	if bsonutil.HasOperatorKeys(sub) && !isLogical(sub[0].Key) {
		return m.field(ref, sub)
	}
	conds, err := m.query(ref, sub, "")
	if err != nil {
		return nil, err
	}
	return expr.And(append(conds, true)...), nil
}

func elemMatchOf(v any) (bson.D, bool) {
	d, ok := bsonutil.AsD(v)
	if !ok {
		return nil, false
	}
	em, ok := bsonutil.Get(d, "$elemMatch")
	if !ok {
		return nil, false
	}
	return bsonutil.AsD(em)
}

func isLogical(op string) bool {
	return op == "$and" || op == "$or" || op == "$nor"
}

// equals mirrors query equality: a direct match, or membership when the
// field holds an array. A null operand also matches a missing field.
func equals(ref string, v any) any {
	if v == nil {
		return expr.Or(expr.Eq(ref, nil), expr.IsMissing(ref))
	}
	lit := expr.Literal(v)
	return expr.Or(
		expr.Eq(ref, lit),
		expr.Op("$in", bson.A{lit, arrayOrEmpty(ref)}),
	)
}

func arrayOrEmpty(ref string) bson.D {
	return expr.Cond(expr.IsArray(ref), ref, bson.A{})
}

func regexMatch(ref, pattern, options string) any {
	return expr.And(
		expr.Eq(expr.Type(ref), "string"),
		expr.Op("$regexMatch", bson.D{
			{Key: "input", Value: ref},
			{Key: "regex", Value: pattern},
			{Key: "options", Value: options},
		}),
	)
}

func typeMatch(ref string, v any) any {
	one := func(t any) any {
		if t == "number" {
			return expr.Op("$isNumber", ref)
		}
		return expr.Eq(expr.Type(ref), t)
	}
	if arr, ok := bsonutil.AsA(v); ok {
		alts := make([]any, 0, len(arr))
		for _, t := range arr {
			alts = append(alts, one(t))
		}
		return expr.Or(alts...)
	}
	return one(v)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int:
		return x != 0
	case int32:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case nil:
		return false
	}
	return true
}
