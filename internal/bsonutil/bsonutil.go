// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package bsonutil converts caller supplied documents into bson.D and
// offers small dotted-path helpers over them.
package bsonutil

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ToD converts a document to bson.D. bson.D is returned as a shallow copy,
// maps are converted with sorted keys, anything else is round-tripped
// through the bson codec.
func ToD(v any) (bson.D, error) {
	switch doc := v.(type) {
	case nil:
		return nil, fmt.Errorf("nil document")
	case bson.D:
		out := make(bson.D, len(doc))
		copy(out, doc)
		return out, nil
	case bson.M:
		return fromMap(doc), nil
	case map[string]any:
		return fromMap(doc), nil
	case bson.Raw:
		var out bson.D
		if err := bson.Unmarshal(doc, &out); err != nil {
			return nil, fmt.Errorf("decode raw document: %w", err)
		}
		return out, nil
	}

	data, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var out bson.D
	if err := bson.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return out, nil
}

// AsD reports v as a bson.D when it is any kind of document value.
func AsD(v any) (bson.D, bool) {
	switch doc := v.(type) {
	case bson.D:
		return doc, true
	case bson.M:
		return fromMap(doc), true
	case map[string]any:
		return fromMap(doc), true
	}
	return nil, false
}

// AsA reports v as a bson.A when it is any kind of array value.
func AsA(v any) (bson.A, bool) {
	switch arr := v.(type) {
	case bson.A:
		return arr, true
	case []any:
		return bson.A(arr), true
	case []bson.D:
		out := make(bson.A, len(arr))
		for i := range arr {
			out[i] = arr[i]
		}
		return out, true
	case []bson.M:
		out := make(bson.A, len(arr))
		for i := range arr {
			out[i] = arr[i]
		}
		return out, true
	}
	return nil, false
}

func fromMap(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: m[k]})
	}
	return out
}

// Get returns the value stored under key.
func Get(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Set replaces the value under key in place or appends it.
func Set(d bson.D, key string, v any) bson.D {
	for i := range d {
		if d[i].Key == key {
			d[i].Value = v
			return d
		}
	}
	return append(d, bson.E{Key: key, Value: v})
}

// Lookup resolves a dotted path through nested documents. Arrays are not
// traversed.
func Lookup(d bson.D, path string) (any, bool) {
	var cur any = d
	for _, seg := range strings.Split(path, ".") {
		doc, ok := AsD(cur)
		if !ok {
			return nil, false
		}
		cur, ok = Get(doc, seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// HasOperatorKeys reports whether the first key of d starts with "$".
func HasOperatorKeys(d bson.D) bool {
	return len(d) > 0 && strings.HasPrefix(d[0].Key, "$")
}

// Plain converts nested bson.D and bson.A values into maps and slices so
// the value can be encoded as JSON.
func Plain(v any) any {
	switch x := v.(type) {
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = Plain(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = Plain(e)
		}
		return m
	case bson.A:
		out := make([]any, len(x))
		for i := range x {
			out[i] = Plain(x[i])
		}
		return out
	case bson.DateTime:
		return x.Time().UTC()
	case bson.ObjectID:
		return x.Hex()
	}
	return v
}
