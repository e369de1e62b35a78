// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package update

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/bsonutil"
	"github.com/tomtom215/mongotrack/internal/fieldpath"
)

// fieldOperators are the update operators whose keys are field paths.
var fieldOperators = map[string]bool{
	"$set":         true,
	"$setOnInsert": true,
	"$addFields":   true,
	"$inc":         true,
	"$pull":        true,
	"$push":        true,
	"$unset":       true,
	"$mul":         true,
	"$min":         true,
	"$max":         true,
	"$rename":      true,
	"$currentDate": true,
	"$addToSet":    true,
	"$pop":         true,
	"$pullAll":     true,
}

// Touches reports whether update may modify path. It accepts object-style
// updates, replacement documents and pipelines. It is conservative: when
// the update cannot be read it reports true.
func Touches(update any, path string) bool {
	target := fieldpath.Parse(path)
	if target.IsZero() {
		return false
	}

	if stages, ok := AsPipeline(update); ok {
		for _, stage := range stages {
			if stageTouches(stage, target) {
				return true
			}
		}
		return false
	}

	doc, err := bsonutil.ToD(update)
	if err != nil {
		return true
	}
	return documentTouches(doc, target)
}

func documentTouches(doc bson.D, target fieldpath.Path) bool {
	if !bsonutil.HasOperatorKeys(doc) {
		// Replacement documents rewrite every field.
		return true
	}
	if keysTouch(doc, target) {
		return true
	}
	for _, e := range doc {
		if !fieldOperators[e.Key] {
			continue
		}
		sub, ok := bsonutil.AsD(e.Value)
		if !ok {
			continue
		}
		if keysTouch(sub, target) {
			return true
		}
		if e.Key == "$rename" {
			for _, r := range sub {
				if name, ok := r.Value.(string); ok && pathTouches(name, target) {
					return true
				}
			}
		}
	}
	return false
}

func stageTouches(stage bson.D, target fieldpath.Path) bool {
	for _, e := range stage {
		switch e.Key {
		case "$set", "$addFields", "$project":
			if sub, ok := bsonutil.AsD(e.Value); ok && keysTouch(sub, target) {
				return true
			}
		case "$unset":
			switch v := e.Value.(type) {
			case string:
				if pathTouches(v, target) {
					return true
				}
			default:
				if arr, ok := bsonutil.AsA(v); ok {
					for _, item := range arr {
						if s, ok := item.(string); ok && pathTouches(s, target) {
							return true
						}
					}
				}
			}
		case "$replaceRoot", "$replaceWith":
			return true
		default:
			if sub, ok := bsonutil.AsD(e.Value); ok && fieldOperators[e.Key] && keysTouch(sub, target) {
				return true
			}
		}
	}
	return false
}

// keysTouch applies the key rules to one operator bucket: exact key,
// nested document lookup, and segment-wise containment in either
// direction once positional markers are stripped.
func keysTouch(obj bson.D, target fieldpath.Path) bool {
	if _, ok := bsonutil.Get(obj, target.String()); ok {
		return true
	}
	if _, ok := bsonutil.Lookup(obj, target.String()); ok {
		return true
	}
	for _, e := range obj {
		if pathTouches(e.Key, target) {
			return true
		}
	}
	return false
}

func pathTouches(key string, target fieldpath.Path) bool {
	stripped := fieldpath.Parse(fieldpath.StripPositional(key))
	if stripped.IsZero() {
		return false
	}
	return target.HasPrefix(stripped) || stripped.HasPrefix(target)
}
