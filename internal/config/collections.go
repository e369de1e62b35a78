// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package config

import (
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/schema"
)

// Schema converts the declared collection into a schema tree. Callbacks
// cannot be declared in configuration; consumers are historize targets and
// published fields.
func (c CollectionConfig) Schema() schema.Schema {
	return schema.Schema{Collection: c.Name, Nodes: nodes(c.Fields)}
}

// Schemas converts every declared collection.
func (t TrackConfig) Schemas() []schema.Schema {
	out := make([]schema.Schema, 0, len(t.Collections))
	for _, c := range t.Collections {
		out = append(out, c.Schema())
	}
	return out
}

func nodes(fields []FieldConfig) []*schema.Node {
	out := make([]*schema.Node, 0, len(fields))
	for i := range fields {
		f := &fields[i]
		n := &schema.Node{
			Name:     f.Name,
			Kind:     kinds[f.kind()],
			BSONType: f.BSONType,
			Enum:     f.Enum,
			Children: nodes(f.Children),
		}
		if f.Track {
			n.Track = f.trackOptions()
		}
		out = append(out, n)
	}
	return out
}

var kinds = map[string]schema.Kind{
	"scalar":            schema.Scalar,
	"embedded":          schema.Embedded,
	"array":             schema.ArrayOfScalar,
	"array_of_embedded": schema.ArrayOfEmbedded,
}

func (f *FieldConfig) kind() string {
	switch {
	case f.Kind != "":
		return f.Kind
	case len(f.Children) > 0:
		return "embedded"
	default:
		return "scalar"
	}
}

func (f *FieldConfig) trackOptions() *schema.TrackOptions {
	opts := &schema.TrackOptions{
		HistorizeCollection: f.HistorizeCollection,
		HistorizeField:      f.HistorizeField,
		Publish:             f.Publish,
	}
	if f.Origin != "" {
		opts.Origin = change.StaticOrigin(f.Origin)
	}
	if len(f.Metadata) > 0 {
		keys := make([]string, 0, len(f.Metadata))
		for k := range f.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			opts.Metadata = append(opts.Metadata, bson.E{Key: k, Value: f.Metadata[k]})
		}
	}
	return opts
}
