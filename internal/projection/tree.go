// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package projection

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/expr"
	"github.com/tomtom215/mongotrack/internal/fieldpath"
	"github.com/tomtom215/mongotrack/internal/schema"
)

// step computes, for one field in the container at x, the condition under
// which the container changes and the keys it then receives.
type step func(x string, f schema.Field) (when any, set bson.D)

// node is a container of tracked fields: the document root, an embedded
// document, or the elements of an array.
type node struct {
	name     string
	array    bool
	fields   []schema.Field
	children []*node
	index    map[string]*node
}

func newTree(fields []schema.Field) *node {
	root := &node{index: make(map[string]*node)}
	for _, f := range fields {
		n := root
		var prefix fieldpath.Path
		for _, seg := range f.Container().Segments() {
			prefix = prefix.Child(seg)
			n = n.child(seg, inArrays(f, prefix))
		}
		n.fields = append(n.fields, f)
	}
	return root
}

func inArrays(f schema.Field, p fieldpath.Path) bool {
	for _, a := range f.Arrays {
		if a.Equal(p) {
			return true
		}
	}
	return false
}

func (n *node) child(name string, array bool) *node {
	if c, ok := n.index[name]; ok {
		return c
	}
	c := &node{name: name, array: array, index: make(map[string]*node)}
	n.index[name] = c
	n.children = append(n.children, c)
	return c
}

type composer struct {
	step  step
	names expr.Namer
}

// compose renders fields as the assignments of a single $set stage.
func compose(fields []schema.Field, s step) bson.D {
	c := &composer{step: s}
	return c.root(newTree(fields))
}

// root assigns top-level keys directly. A key whose condition is false is
// reassigned its own value, which leaves a missing key missing.
func (c *composer) root(n *node) bson.D {
	var set bson.D
	for _, f := range n.fields {
		when, fields := c.step("", f)
		for _, e := range fields {
			set = append(set, bson.E{Key: e.Key, Value: expr.Cond(when, e.Value, expr.Field(e.Key))})
		}
	}
	for _, ch := range n.children {
		set = append(set, bson.E{Key: ch.name, Value: c.container(ch, expr.Field(ch.name))})
	}
	return set
}

// container rewrites the value at ref when it has the expected shape and
// returns it unchanged otherwise.
func (c *composer) container(n *node, ref string) any {
	if !n.array {
		return expr.Cond(expr.IsObject(ref), c.object(n, ref), ref)
	}
	v := c.names.Next("e")
	el := expr.Var(v)
	return expr.Cond(
		expr.IsArray(ref),
		expr.Map(ref, v, expr.Cond(expr.IsObject(el), c.object(n, el), el)),
		ref,
	)
}

func (c *composer) object(n *node, x string) any {
	parts := bson.A{x}
	for _, f := range n.fields {
		when, set := c.step(x, f)
		parts = append(parts, expr.Cond(when, set, bson.D{}))
	}
	if len(n.children) > 0 {
		kids := make(bson.D, 0, len(n.children))
		for _, ch := range n.children {
			kids = append(kids, bson.E{Key: ch.name, Value: c.container(ch, expr.At(x, ch.name))})
		}
		parts = append(parts, kids)
	}
	return expr.MergeObjects(parts...)
}
