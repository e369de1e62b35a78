// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package schema

import (
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/change"
)

// Kind classifies a schema node.
type Kind int

const (
	// Scalar is a leaf value.
	Scalar Kind = iota
	// Embedded is a nested document.
	Embedded
	// ArrayOfScalar is an array of leaf values.
	ArrayOfScalar
	// ArrayOfEmbedded is an array of nested documents.
	ArrayOfEmbedded
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Embedded:
		return "embedded"
	case ArrayOfScalar:
		return "array"
	case ArrayOfEmbedded:
		return "array_of_embedded"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidSchema is returned when a node fails validation.
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrDuplicateField is returned when two siblings share a name.
	ErrDuplicateField = errors.New("duplicate field")
)

// Node is one declared field of a collection schema.
type Node struct {
	Name string `validate:"required,fieldname"`
	Kind Kind   `validate:"min=0,max=3"`
	// BSONType is the $jsonSchema bsonType of the value, or of the items
	// for arrays of scalars. Empty means any type.
	BSONType string
	Enum     []any
	Track    *TrackOptions
	Children []*Node `validate:"dive,required"`
}

// TrackOptions marks a node as tracked. A zero value only maintains the
// shadow info record.
type TrackOptions struct {
	// Origin stamps the actor of a change when the call sets none.
	Origin change.OriginFunc
	// OnChange receives every drained change of the field.
	OnChange change.Handler
	// Metadata is merged into drained records. Values may be aggregation
	// expressions such as "$code" or "$$item.code".
	Metadata bson.D
	// HistorizeCollection receives one ledger row per change.
	HistorizeCollection string `validate:"omitempty,collection"`
	// HistorizeField names a sibling array receiving [millis, value, origin]
	// tuples.
	HistorizeField string `validate:"omitempty,fieldname"`
	// Publish sends drained changes to the event publisher.
	Publish bool
}

// Schema is the declared field tree of one collection.
type Schema struct {
	Collection string  `validate:"required,collection"`
	Nodes      []*Node `validate:"dive,required"`
}

// Track is a shorthand for a tracked node option set with no extras.
func Track() *TrackOptions {
	return &TrackOptions{}
}

// Field helpers used to declare schemas compactly.

// ScalarNode declares a leaf field.
func ScalarNode(name, bsonType string, track *TrackOptions) *Node {
	return &Node{Name: name, Kind: Scalar, BSONType: bsonType, Track: track}
}

// EmbeddedNode declares a nested document.
func EmbeddedNode(name string, track *TrackOptions, children ...*Node) *Node {
	return &Node{Name: name, Kind: Embedded, Track: track, Children: children}
}

// ArrayNode declares an array of nested documents.
func ArrayNode(name string, track *TrackOptions, children ...*Node) *Node {
	return &Node{Name: name, Kind: ArrayOfEmbedded, Track: track, Children: children}
}

func (n *Node) child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}
