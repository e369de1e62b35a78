// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package expr builds aggregation expressions as bson.D values.
//
// Builders return bson.D so the key order of generated pipelines is stable
// and can be asserted in tests. Field references are plain strings:
// "$status" for a document field and "$$elem.status" for a variable.
package expr

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Now is the pipeline clock. It is evaluated once per write operation.
const Now = "$$NOW"

// Field returns the reference to a document field path.
func Field(path string) string {
	return "$" + path
}

// Var returns the reference to a variable, optionally descending into it.
func Var(name string, path ...string) string {
	ref := "$$" + name
	for _, p := range path {
		if p != "" {
			ref += "." + p
		}
	}
	return ref
}

// At descends into a reference. An empty base means the document root.
func At(base, path string) string {
	if base == "" {
		return Field(path)
	}
	if path == "" {
		return base
	}
	return base + "." + path
}

// Literal wraps v so it is never interpreted as an expression.
func Literal(v any) bson.D {
	return bson.D{{Key: "$literal", Value: v}}
}

// Op builds a single-operator expression {op: args}.
func Op(op string, args any) bson.D {
	return bson.D{{Key: op, Value: args}}
}

// Cond builds {$cond: {if, then, else}}.
func Cond(cond, then, otherwise any) bson.D {
	return bson.D{{Key: "$cond", Value: bson.D{
		{Key: "if", Value: cond},
		{Key: "then", Value: then},
		{Key: "else", Value: otherwise},
	}}}
}

// Eq builds {$eq: [a, b]}.
func Eq(a, b any) bson.D { return Op("$eq", bson.A{a, b}) }

// Ne builds {$ne: [a, b]}.
func Ne(a, b any) bson.D { return Op("$ne", bson.A{a, b}) }

// Not builds {$not: [x]}.
func Not(x any) bson.D { return Op("$not", bson.A{x}) }

// And builds {$and: [...]}. A single operand is returned unwrapped.
func And(xs ...any) any {
	if len(xs) == 1 {
		return xs[0]
	}
	return Op("$and", bson.A(xs))
}

// Or builds {$or: [...]}. A single operand is returned unwrapped.
func Or(xs ...any) any {
	if len(xs) == 1 {
		return xs[0]
	}
	return Op("$or", bson.A(xs))
}

// Type builds {$type: x}.
func Type(x any) bson.D { return Op("$type", x) }

// IsMissing is true when x does not resolve to a value.
func IsMissing(x any) bson.D { return Eq(Type(x), "missing") }

// IsObject is true when x is an embedded document.
func IsObject(x any) bson.D { return Eq(Type(x), "object") }

// IsArray builds {$isArray: x}.
func IsArray(x any) bson.D { return Op("$isArray", x) }

// IfNull builds {$ifNull: [x, fallback]}.
func IfNull(x, fallback any) bson.D { return Op("$ifNull", bson.A{x, fallback}) }

// MergeObjects builds {$mergeObjects: [...]}.
func MergeObjects(xs ...any) bson.D { return Op("$mergeObjects", bson.A(xs)) }

// ConcatArrays builds {$concatArrays: [...]}.
func ConcatArrays(xs ...any) bson.D { return Op("$concatArrays", bson.A(xs)) }

// Map builds {$map: {input, as, in}}.
func Map(input any, as string, in any) bson.D {
	return bson.D{{Key: "$map", Value: bson.D{
		{Key: "input", Value: input},
		{Key: "as", Value: as},
		{Key: "in", Value: in},
	}}}
}

// Filter builds {$filter: {input, as, cond}}.
func Filter(input any, as string, cond any) bson.D {
	return bson.D{{Key: "$filter", Value: bson.D{
		{Key: "input", Value: input},
		{Key: "as", Value: as},
		{Key: "cond", Value: cond},
	}}}
}

// Let binds one variable for the evaluation of in.
func Let(name string, value, in any) bson.D {
	return bson.D{{Key: "$let", Value: bson.D{
		{Key: "vars", Value: bson.D{{Key: name, Value: value}}},
		{Key: "in", Value: in},
	}}}
}

// UnsetField builds {$unsetField: {field, input}}.
func UnsetField(field string, input any) bson.D {
	return bson.D{{Key: "$unsetField", Value: bson.D{
		{Key: "field", Value: Literal(field)},
		{Key: "input", Value: input},
	}}}
}

// Set wraps a field assignment list in a $set stage.
func Set(fields bson.D) bson.D {
	return bson.D{{Key: "$set", Value: fields}}
}

// IsRef reports whether v is a string field or variable reference.
func IsRef(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, "$")
}

// Namer hands out unique variable names for nested $map and $let scopes.
// Aggregation variable names must start with a lowercase letter.
type Namer struct {
	n int
}

// Next returns a fresh name with the given prefix.
func (n *Namer) Next(prefix string) string {
	name := fmt.Sprintf("%s%d", prefix, n.n)
	n.n++
	return name
}
