// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package schema

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// WithInfoPaths returns a copy of s in which every tracked node has its
// shadow info sibling and, when configured, its history sibling. Nodes
// that already exist are left alone, so applying it twice is a no-op.
func WithInfoPaths(s Schema, suffix string) Schema {
	if suffix == "" {
		suffix = DefaultInfoSuffix
	}
	return Schema{Collection: s.Collection, Nodes: withInfo(s.Nodes, suffix)}
}

func withInfo(nodes []*Node, suffix string) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		cp := *n
		if n.Track == nil && len(n.Children) > 0 {
			cp.Children = withInfo(n.Children, suffix)
		}
		out = append(out, &cp)
	}

	parent := &Node{Children: out}
	for _, n := range nodes {
		if n.Track == nil {
			continue
		}
		if parent.child(n.Name+suffix) == nil {
			parent.Children = append(parent.Children, infoNode(n, suffix))
		}
		if h := n.Track.HistorizeField; h != "" && parent.child(h) == nil {
			parent.Children = append(parent.Children, &Node{Name: h, Kind: ArrayOfScalar, BSONType: "array"})
		}
	}
	return parent.Children
}

func infoNode(n *Node, suffix string) *Node {
	valueType := n.BSONType
	switch n.Kind {
	case Embedded:
		valueType = "object"
	case ArrayOfScalar, ArrayOfEmbedded:
		valueType = "array"
	}

	var enum []any
	if len(n.Enum) > 0 {
		enum = []any(enumWithNull(n.Enum))
	}

	return &Node{
		Name: n.Name + suffix,
		Kind: Embedded,
		Children: []*Node{
			{Name: "value", Kind: Scalar, BSONType: valueType, Enum: enum},
			{Name: "previousValue", Kind: Scalar, BSONType: valueType, Enum: enum},
			{Name: "updatedAt", Kind: Scalar, BSONType: "date"},
			{Name: "previousUpdatedAt", Kind: Scalar, BSONType: "date"},
			{Name: "origin", Kind: Scalar},
			{Name: "changePending", Kind: Scalar, BSONType: "bool"},
			{Name: "correlationId", Kind: Scalar, BSONType: "string"},
		},
	}
}

// JSONSchema renders a $jsonSchema validator document for s. Every value
// also admits null, and unknown fields are allowed.
func JSONSchema(s Schema) bson.D {
	return bson.D{
		{Key: "bsonType", Value: "object"},
		{Key: "properties", Value: properties(s.Nodes)},
	}
}

func properties(nodes []*Node) bson.D {
	props := make(bson.D, 0, len(nodes))
	for _, n := range nodes {
		props = append(props, bson.E{Key: n.Name, Value: nodeSchema(n)})
	}
	return props
}

func nodeSchema(n *Node) bson.D {
	switch n.Kind {
	case Embedded:
		d := bson.D{{Key: "bsonType", Value: bson.A{"object", "null"}}}
		if len(n.Children) > 0 {
			d = append(d, bson.E{Key: "properties", Value: properties(n.Children)})
		}
		return d
	case ArrayOfEmbedded:
		items := bson.D{{Key: "bsonType", Value: "object"}}
		if len(n.Children) > 0 {
			items = append(items, bson.E{Key: "properties", Value: properties(n.Children)})
		}
		return bson.D{
			{Key: "bsonType", Value: bson.A{"array", "null"}},
			{Key: "items", Value: items},
		}
	case ArrayOfScalar:
		d := bson.D{{Key: "bsonType", Value: bson.A{"array", "null"}}}
		if n.BSONType != "" && n.BSONType != "array" {
			d = append(d, bson.E{Key: "items", Value: bson.D{{Key: "bsonType", Value: n.BSONType}}})
		}
		return d
	default:
		var d bson.D
		if n.BSONType != "" {
			d = append(d, bson.E{Key: "bsonType", Value: bson.A{n.BSONType, "null"}})
		}
		if len(n.Enum) > 0 {
			d = append(d, bson.E{Key: "enum", Value: enumWithNull(n.Enum)})
		}
		if d == nil {
			d = bson.D{}
		}
		return d
	}
}

func enumWithNull(enum []any) bson.A {
	out := make(bson.A, 0, len(enum)+1)
	hasNull := false
	for _, v := range enum {
		if v == nil {
			hasNull = true
		}
		out = append(out, v)
	}
	if !hasNull {
		out = append(out, nil)
	}
	return out
}
