// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package update

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestTouches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		update any
		path   string
		want   bool
	}{
		{
			name:   "exact key",
			update: bson.M{"$set": bson.M{"status": "rupture"}},
			path:   "status",
			want:   true,
		},
		{
			name:   "other field",
			update: bson.M{"$set": bson.M{"code": "A002"}},
			path:   "status",
			want:   false,
		},
		{
			name:   "positional marker",
			update: bson.M{"$set": bson.M{"array.$.status": "valide"}},
			path:   "array.status",
			want:   true,
		},
		{
			name:   "filtered positional marker",
			update: bson.M{"$set": bson.M{"array.$[elmt].status": "valide"}},
			path:   "array.status",
			want:   true,
		},
		{
			name:   "all positional marker",
			update: bson.M{"$set": bson.M{"array.$[].status": "valide"}},
			path:   "array.status",
			want:   true,
		},
		{
			name:   "numeric index",
			update: bson.M{"$set": bson.M{"array.1.status": "valide"}},
			path:   "array.status",
			want:   true,
		},
		{
			name:   "sibling array field",
			update: bson.M{"$set": bson.M{"array.$.code": "X200"}},
			path:   "array.status",
			want:   false,
		},
		{
			name:   "whole subdocument",
			update: bson.M{"$set": bson.M{"embeddedSchema": bson.M{"status": "ok"}}},
			path:   "embeddedSchema.status",
			want:   true,
		},
		{
			name:   "deeper key under tracked unit",
			update: bson.M{"$set": bson.M{"embeddedTracked.status": "ok"}},
			path:   "embeddedTracked",
			want:   true,
		},
		{
			name:   "name sharing a prefix",
			update: bson.M{"$set": bson.M{"statusHistory": bson.A{}}},
			path:   "status",
			want:   false,
		},
		{
			name:   "push into array",
			update: bson.M{"$push": bson.M{"array": bson.M{"code": "X102", "status": "new"}}},
			path:   "array.status",
			want:   true,
		},
		{
			name:   "pull from array",
			update: bson.M{"$pull": bson.M{"array": bson.M{"code": "X100"}}},
			path:   "array.status",
			want:   true,
		},
		{
			name:   "inc",
			update: bson.M{"$inc": bson.M{"stock": 1}},
			path:   "stock",
			want:   true,
		},
		{
			name:   "unset",
			update: bson.M{"$unset": bson.M{"status": ""}},
			path:   "status",
			want:   true,
		},
		{
			name:   "rename target",
			update: bson.M{"$rename": bson.M{"state": "status"}},
			path:   "status",
			want:   true,
		},
		{
			name:   "set on insert",
			update: bson.M{"$setOnInsert": bson.M{"status": "new"}},
			path:   "status",
			want:   true,
		},
		{
			name:   "replacement document",
			update: bson.M{"code": "A001"},
			path:   "status",
			want:   true,
		},
		{
			name: "pipeline set stage",
			update: mongo.Pipeline{
				{{Key: "$set", Value: bson.D{{Key: "status", Value: "$newStatus"}}}},
			},
			path: "status",
			want: true,
		},
		{
			name: "pipeline unset stage",
			update: bson.A{
				bson.D{{Key: "$unset", Value: bson.A{"code", "status"}}},
			},
			path: "status",
			want: true,
		},
		{
			name: "pipeline untouched",
			update: []bson.D{
				{{Key: "$set", Value: bson.D{{Key: "code", Value: "A009"}}}},
			},
			path: "status",
			want: false,
		},
		{
			name: "pipeline replace root",
			update: mongo.Pipeline{
				{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$$new"}}}},
			},
			path: "status",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Touches(tt.update, tt.path); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTouches_Pure(t *testing.T) {
	t.Parallel()

	u := bson.M{"$set": bson.M{"array.$.status": "valide"}}
	first := Touches(u, "array.status")
	for i := 0; i < 10; i++ {
		if Touches(u, "array.status") != first {
			t.Fatal("expected repeated calls to agree")
		}
	}
	set := u["$set"].(bson.M)
	if len(set) != 1 || set["array.$.status"] != "valide" {
		t.Errorf("expected update left unchanged, got %v", u)
	}
}
