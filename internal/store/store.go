// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package store narrows the MongoDB driver to the calls the tracker makes.
//
// The tracker, the drain coordinator and the ledger only see Database and
// Collection, so tests can substitute in-memory fakes that record each
// submitted filter, pipeline and bulk model. Sessions are not part of the
// interface: a session started by the caller travels in the context
// (mongo.NewSessionContext) and the driver picks it up on every call.
package store

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// UpdateOptions are the options of UpdateOne and UpdateMany.
type UpdateOptions struct {
	Upsert       bool
	ArrayFilters []any
}

// FindOneAndUpdateOptions are the options of FindOneAndUpdate.
type FindOneAndUpdateOptions struct {
	Upsert       bool
	ReturnAfter  bool
	Projection   any
	Sort         any
	ArrayFilters []any
}

// FindOptions are the options of Find.
type FindOptions struct {
	Projection any
	Sort       any
	Limit      int64
}

// Collection is the subset of *mongo.Collection used by mongotrack.
type Collection interface {
	Name() string
	InsertOne(ctx context.Context, doc any) (*mongo.InsertOneResult, error)
	InsertMany(ctx context.Context, docs []any, ordered bool) (*mongo.InsertManyResult, error)
	UpdateOne(ctx context.Context, filter, update any, opts UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update any, opts UpdateOptions) (*mongo.UpdateResult, error)
	// FindOneAndUpdate returns a nil document and no error when nothing
	// matched.
	FindOneAndUpdate(ctx context.Context, filter, update any, opts FindOneAndUpdateOptions) (bson.Raw, error)
	BulkWrite(ctx context.Context, models []mongo.WriteModel, ordered bool) (*mongo.BulkWriteResult, error)
	Aggregate(ctx context.Context, pipeline any) ([]bson.Raw, error)
	Find(ctx context.Context, filter any, opts FindOptions) ([]bson.Raw, error)
	CountDocuments(ctx context.Context, filter any) (int64, error)
	CreateIndexes(ctx context.Context, models []mongo.IndexModel) error
}

// Database is the subset of *mongo.Database used by mongotrack.
type Database interface {
	Name() string
	Collection(name string) Collection
	RunCommand(ctx context.Context, cmd any) error
}
