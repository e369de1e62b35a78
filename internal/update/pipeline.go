// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package update

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/tomtom215/mongotrack/internal/bsonutil"
	"github.com/tomtom215/mongotrack/internal/expr"
	"github.com/tomtom215/mongotrack/internal/fieldpath"
)

// AsPipeline reports update as a pipeline when it is a list of stages.
// The returned pipeline is a copy.
func AsPipeline(update any) (mongo.Pipeline, bool) {
	if p, ok := update.(mongo.Pipeline); ok {
		return append(mongo.Pipeline(nil), p...), true
	}
	arr, ok := bsonutil.AsA(update)
	if !ok {
		return nil, false
	}
	out := make(mongo.Pipeline, 0, len(arr))
	for _, item := range arr {
		stage, ok := bsonutil.AsD(item)
		if !ok {
			return nil, false
		}
		out = append(out, stage)
	}
	return out, true
}

// IsPipeline reports whether update is a list of stages.
func IsPipeline(update any) bool {
	_, ok := AsPipeline(update)
	return ok
}

// IsReplacement reports whether update is a whole replacement document.
func IsReplacement(update any) bool {
	if IsPipeline(update) {
		return false
	}
	doc, err := bsonutil.ToD(update)
	if err != nil {
		return false
	}
	return !bsonutil.HasOperatorKeys(doc)
}

// Replacement expresses a replacement document as a pipeline. The stored
// _id and the keep fields survive the replacement unless the document sets
// them itself.
func Replacement(doc any, keep []string) (mongo.Pipeline, error) {
	d, err := bsonutil.ToD(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	if bsonutil.HasOperatorKeys(d) {
		return nil, fmt.Errorf("%w: replacement contains update operators", ErrInvalidUpdate)
	}
	kept := bson.D{{Key: "_id", Value: expr.Field("_id")}}
	for _, k := range keep {
		kept = append(kept, bson.E{Key: k, Value: expr.Field(k)})
	}
	return mongo.Pipeline{
		{{Key: "$replaceWith", Value: expr.MergeObjects(kept, expr.Literal(d))}},
	}, nil
}

// ToPipeline rewrites an update into an equivalent update pipeline.
//
// Pipelines are returned unchanged. A document without update operators is
// rejected: replacements go through Replacement. Object-style updates become a single
// $set stage, followed by an $unset stage when fields are removed. Every
// expression in the $set stage reads the pre-update document, matching
// the semantics of update operators. Positional paths become $map
// expressions over the array: "$[]" selects every element, "$[id]" the
// elements matching the array filter for id, "$" the first element
// matching the filter's conditions on the array, and numeric segments the
// element at that index, padding the array with nulls when the index is
// past its end. On a document or a missing field a numeric segment is a
// plain key. arrayFilters are consumed here and must not be
// sent along with the pipeline.
func ToPipeline(filter, update any, arrayFilters []any) (mongo.Pipeline, error) {
	if p, ok := AsPipeline(update); ok {
		return p, nil
	}
	doc, err := bsonutil.ToD(update)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	if !bsonutil.HasOperatorKeys(doc) {
		return nil, fmt.Errorf("%w: update document must use update operators", ErrInvalidUpdate)
	}

	b, err := newBuilder(filter, arrayFilters)
	if err != nil {
		return nil, err
	}
	if err := b.collect(doc); err != nil {
		return nil, err
	}
	return b.pipeline()
}

type leafFunc func(cur string) any

type operation struct {
	op     string
	segs   []string
	leaf   leafFunc
	remove bool
}

type builder struct {
	filter       bson.D
	arrayFilters map[string]bson.D
	names        expr.Namer
	m            matcher
	ops          []operation
	set          bson.D
	unset        []string
}

func newBuilder(filter any, arrayFilters []any) (*builder, error) {
	b := &builder{arrayFilters: make(map[string]bson.D)}
	b.m = matcher{names: &b.names}
	if filter != nil {
		f, err := bsonutil.ToD(filter)
		if err != nil {
			return nil, fmt.Errorf("%w: filter: %v", ErrInvalidUpdate, err)
		}
		b.filter = f
	}
	for _, af := range arrayFilters {
		d, err := bsonutil.ToD(af)
		if err != nil {
			return nil, fmt.Errorf("%w: array filter: %v", ErrInvalidUpdate, err)
		}
		for _, e := range d {
			id := e.Key
			if i := strings.IndexByte(id, '.'); i >= 0 {
				id = id[:i]
			}
			if strings.HasPrefix(id, "$") {
				// {$or: [...]} filters name their identifier inside.
				id = logicalIdentifier(e.Value)
			}
			b.arrayFilters[id] = append(b.arrayFilters[id], e)
		}
	}
	return b, nil
}

func logicalIdentifier(v any) string {
	arr, _ := bsonutil.AsA(v)
	for _, item := range arr {
		if d, ok := bsonutil.AsD(item); ok && len(d) > 0 {
			id := d[0].Key
			if i := strings.IndexByte(id, '.'); i >= 0 {
				id = id[:i]
			}
			if !strings.HasPrefix(id, "$") {
				return id
			}
			return logicalIdentifier(d[0].Value)
		}
	}
	return ""
}

func (b *builder) collect(doc bson.D) error {
	for _, e := range doc {
		fields, ok := bsonutil.AsD(e.Value)
		if !ok {
			return fmt.Errorf("%w: %s expects a document", ErrInvalidUpdate, e.Key)
		}
		for _, f := range fields {
			if e.Key == "$rename" {
				if err := b.rename(f.Key, f.Value); err != nil {
					return err
				}
				continue
			}
			leaf, remove, err := b.leaf(e.Key, f.Value)
			if err != nil {
				return err
			}
			b.ops = append(b.ops, operation{
				op:     e.Key,
				segs:   fieldpath.Parse(f.Key).Segments(),
				leaf:   leaf,
				remove: remove,
			})
		}
	}
	return nil
}

func (b *builder) rename(from string, to any) error {
	target, ok := to.(string)
	if !ok || target == "" {
		return fmt.Errorf("%w: $rename target must be a string", ErrInvalidUpdate)
	}
	if fieldpath.Parse(from).Positional() >= 0 || fieldpath.Parse(target).Positional() >= 0 {
		return fmt.Errorf("%w: $rename does not accept positional paths", ErrInvalidUpdate)
	}
	src := expr.Field(from)
	b.set = append(b.set, bson.E{Key: target, Value: expr.Cond(expr.IsMissing(src), expr.Field(target), src)})
	b.unset = append(b.unset, from)
	return nil
}

func (b *builder) pipeline() (mongo.Pipeline, error) {
	type group struct {
		abs string
		ops []operation
	}
	var groups []*group
	byPrefix := make(map[string]*group)

	for _, op := range b.ops {
		i := markerIndex(op.segs)
		if i < 0 {
			path := strings.Join(op.segs, ".")
			if op.remove {
				b.unset = append(b.unset, path)
				continue
			}
			b.set = append(b.set, bson.E{Key: path, Value: op.leaf(expr.Field(path))})
			continue
		}
		if i == 0 {
			return nil, fmt.Errorf("%w: positional operator at document root", ErrInvalidUpdate)
		}
		prefix := strings.Join(op.segs[:i], ".")
		g, ok := byPrefix[prefix]
		if !ok {
			g = &group{abs: prefix}
			byPrefix[prefix] = g
			groups = append(groups, g)
		}
		g.ops = append(g.ops, operation{op: op.op, segs: op.segs[i:], leaf: op.leaf, remove: op.remove})
	}

	for _, g := range groups {
		v, err := b.arrayExpr(expr.Field(g.abs), g.abs, g.ops)
		if err != nil {
			return nil, err
		}
		b.set = append(b.set, bson.E{Key: g.abs, Value: v})
	}

	var p mongo.Pipeline
	if len(b.set) > 0 {
		p = append(p, expr.Set(b.set))
	}
	if len(b.unset) > 0 {
		unset := make(bson.A, len(b.unset))
		for i, u := range b.unset {
			unset[i] = u
		}
		p = append(p, bson.D{{Key: "$unset", Value: unset}})
	}
	return p, nil
}

// arrayExpr rewrites the array at input. Every op starts with a marker
// segment selecting elements; the rest of its path applies inside them.
func (b *builder) arrayExpr(input, abs string, ops []operation) (any, error) {
	indexed := false
	positional := false
	numeric := true
	pad := 0
	for _, op := range ops {
		switch {
		case op.segs[0] == "$":
			indexed, positional, numeric = true, true, false
		case isIndex(op.segs[0]):
			indexed = true
			if n, err := strconv.Atoi(op.segs[0]); err == nil && !op.remove && n+1 > pad {
				pad = n + 1
			}
		default:
			numeric = false
		}
	}

	// Numeric segments name object keys when the value is not an array.
	otherwise := any(input)
	if numeric {
		obj, err := b.objectExpr(input, abs, ops)
		if err != nil {
			return nil, err
		}
		otherwise = expr.Cond(expr.Or(expr.IsObject(input), expr.IsMissing(input)), obj, input)
	}

	el := b.names.Next("el")
	elRef := expr.Var(el)
	idxRef, hitRef := "", ""
	var hitVar string
	var hitValue any

	if indexed {
		idxRef = expr.Var(b.names.Next("idx"))
	}
	if positional {
		name := b.names.Next("m")
		cond, err := b.positionalCond(expr.Var(name), abs)
		if err != nil {
			return nil, err
		}
		hitVar = b.names.Next("hit")
		hitRef = expr.Var(hitVar)
		hitValue = expr.Op("$indexOfArray", bson.A{expr.Map(input, name, cond), true})
	}

	var cur any = elRef
	for _, op := range ops {
		sel, err := b.selector(op.segs[0], elRef, idxRef, hitRef)
		if err != nil {
			return nil, err
		}
		apply := func(ref string) (any, error) {
			return b.applyRest(ref, abs, op.segs[1:], op)
		}

		ref, ok := cur.(string)
		var v string
		if !ok {
			v = b.names.Next("x")
			ref = expr.Var(v)
		}
		next, err := apply(ref)
		if err != nil {
			return nil, err
		}
		if sel != nil {
			next = expr.Cond(sel, next, ref)
		}
		if ok {
			cur = next
		} else {
			cur = expr.Let(v, cur, next)
		}
	}

	if !indexed {
		return expr.Cond(expr.IsArray(input), expr.Map(input, el, cur), otherwise), nil
	}

	// Setting an index past the end pads the array with nulls.
	var size any = expr.Op("$size", input)
	if pad > 0 {
		size = expr.Op("$max", bson.A{size, pad})
	}
	idxName := strings.TrimPrefix(idxRef, "$$")
	body := expr.Map(
		expr.Op("$range", bson.A{0, size}),
		idxName,
		expr.Let(el, expr.Op("$arrayElemAt", bson.A{input, idxRef}), cur),
	)
	if positional {
		body = expr.Let(hitVar, hitValue, body)
	}
	return expr.Cond(expr.IsArray(input), body, otherwise), nil
}

// objectExpr applies ops to the document at input, reading their first
// segment as a key. The ops are applied in order.
func (b *builder) objectExpr(input, abs string, ops []operation) (any, error) {
	var cur any = input
	for _, op := range ops {
		v := b.names.Next("o")
		ref := expr.Var(v)
		key := op.segs[0]
		var next any
		if len(op.segs) == 1 && op.remove {
			next = expr.Cond(expr.IsObject(ref), expr.UnsetField(key, ref), ref)
		} else {
			inner, err := b.applyRest(expr.At(ref, key), abs+"."+key, op.segs[1:], op)
			if err != nil {
				return nil, err
			}
			next = expr.MergeObjects(ref, bson.D{{Key: key, Value: inner}})
		}
		cur = expr.Let(v, cur, next)
	}
	return cur, nil
}

// selector returns the element predicate of a marker, or nil for all.
func (b *builder) selector(marker, elRef, idxRef, hitRef string) (any, error) {
	switch {
	case marker == "$[]":
		return nil, nil
	case marker == "$":
		return expr.Eq(idxRef, hitRef), nil
	case isIndex(marker):
		n, err := strconv.Atoi(marker)
		if err != nil {
			return nil, fmt.Errorf("%w: array index %s", ErrInvalidUpdate, marker)
		}
		return expr.Eq(idxRef, n), nil
	}

	id := fieldpath.Identifier(marker)
	filters, ok := b.arrayFilters[id]
	if !ok {
		return nil, fmt.Errorf("%w: no array filter found for identifier %q", ErrInvalidUpdate, id)
	}
	conds, err := b.m.query(elRef, filters, id)
	if err != nil {
		return nil, err
	}
	if len(conds) == 0 {
		return nil, fmt.Errorf("%w: empty array filter for identifier %q", ErrInvalidUpdate, id)
	}
	return expr.And(conds...), nil
}

// positionalCond derives the "$" element predicate from the filter.
func (b *builder) positionalCond(elRef, abs string) (any, error) {
	conds, err := b.m.query(elRef, b.filter, fieldpath.StripPositional(abs))
	if err != nil {
		return nil, err
	}
	if len(conds) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPositionalWithoutMatch, abs)
	}
	return expr.And(conds...), nil
}

// applyRest applies op at the remaining path inside the element at ref.
func (b *builder) applyRest(ref, abs string, rest []string, op operation) (any, error) {
	if len(rest) == 0 {
		if op.remove {
			// $unset on an array element sets it to null.
			return nil, nil
		}
		return op.leaf(ref), nil
	}

	j := markerIndex(rest)
	if j < 0 {
		return setIn(ref, rest, op.leaf, op.remove), nil
	}
	if j == 0 {
		return nil, fmt.Errorf("%w: consecutive positional operators", ErrInvalidUpdate)
	}

	inner := operation{op: op.op, segs: rest[j:], leaf: op.leaf, remove: op.remove}
	innerAbs := abs + "." + strings.Join(rest[:j], ".")
	var innerErr error
	nested := func(cur string) any {
		v, err := b.arrayExpr(cur, innerAbs, []operation{inner})
		if err != nil {
			innerErr = err
		}
		return v
	}
	v := setIn(ref, rest[:j], nested, false)
	if innerErr != nil {
		return nil, innerErr
	}
	return v, nil
}

// setIn rebuilds the document at ref with leaf applied at segs.
func setIn(ref string, segs []string, leaf leafFunc, remove bool) any {
	child := expr.At(ref, segs[0])
	if len(segs) == 1 {
		if remove {
			return expr.Cond(expr.IsObject(ref), expr.UnsetField(segs[0], ref), ref)
		}
		return expr.MergeObjects(ref, bson.D{{Key: segs[0], Value: leaf(child)}})
	}
	inner := setIn(child, segs[1:], leaf, remove)
	if remove {
		return expr.Cond(expr.IsObject(child), expr.MergeObjects(ref, bson.D{{Key: segs[0], Value: inner}}), ref)
	}
	return expr.MergeObjects(ref, bson.D{{Key: segs[0], Value: inner}})
}

func markerIndex(segs []string) int {
	for i, s := range segs {
		if fieldpath.IsPositional(s) || isIndex(s) {
			return i
		}
	}
	return -1
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
