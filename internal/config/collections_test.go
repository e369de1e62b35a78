// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package config

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/schema"
)

func TestCollectionConfig_Schema(t *testing.T) {
	t.Parallel()

	coll := CollectionConfig{
		Name: "articles",
		Fields: []FieldConfig{
			{
				Name:                "status",
				Track:               true,
				Origin:              "import",
				HistorizeCollection: "articles_status",
				Metadata:            map[string]string{"zone": "$zone", "code": "$code"},
			},
			{Name: "tags", Kind: "array", BSONType: "string"},
			{
				Name: "lines",
				Kind: "array_of_embedded",
				Children: []FieldConfig{
					{Name: "quantity", BSONType: "int", Track: true, Publish: true},
				},
			},
			{
				Name:     "supplier",
				Children: []FieldConfig{{Name: "name", Track: true}},
			},
		},
	}

	s := coll.Schema()
	if s.Collection != "articles" || len(s.Nodes) != 4 {
		t.Fatalf("expected 4 nodes for articles, got %+v", s)
	}

	status := s.Nodes[0]
	if status.Kind != schema.Scalar || status.Track == nil {
		t.Fatalf("expected tracked scalar status, got %+v", status)
	}
	if status.Track.HistorizeCollection != "articles_status" {
		t.Errorf("expected historize collection, got %q", status.Track.HistorizeCollection)
	}
	if got := status.Track.Origin(context.Background()); got != "import" {
		t.Errorf("expected origin import, got %v", got)
	}
	wantMeta := bson.D{{Key: "code", Value: "$code"}, {Key: "zone", Value: "$zone"}}
	if len(status.Track.Metadata) != 2 || status.Track.Metadata[0] != wantMeta[0] || status.Track.Metadata[1] != wantMeta[1] {
		t.Errorf("expected sorted metadata %v, got %v", wantMeta, status.Track.Metadata)
	}

	if s.Nodes[1].Kind != schema.ArrayOfScalar || s.Nodes[1].Track != nil {
		t.Errorf("expected untracked array of scalars, got %+v", s.Nodes[1])
	}
	lines := s.Nodes[2]
	if lines.Kind != schema.ArrayOfEmbedded || len(lines.Children) != 1 || !lines.Children[0].Track.Publish {
		t.Errorf("expected array of embedded with published child, got %+v", lines)
	}
	if s.Nodes[3].Kind != schema.Embedded {
		t.Errorf("expected inferred embedded kind, got %v", s.Nodes[3].Kind)
	}

	fields, err := schema.Resolve(s, schema.ResolveOptions{InfoSuffix: "Info"})
	if err != nil {
		t.Fatalf("expected schema to resolve, got %v", err)
	}
	if len(fields) != 3 {
		t.Errorf("expected 3 tracked fields, got %d", len(fields))
	}
}
