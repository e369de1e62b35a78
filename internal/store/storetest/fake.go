// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package storetest provides a recording in-memory store.Database for
// tests. It does not evaluate filters or pipelines: every call is recorded
// and answered from scripted results.
package storetest

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/tomtom215/mongotrack/internal/store"
)

// Call is one recorded driver call.
type Call struct {
	Op          string
	Filter      any
	Update      any
	Pipeline    any
	Docs        []any
	Models      []mongo.WriteModel
	Indexes     []mongo.IndexModel
	Ordered     bool
	UpdateOpts  store.UpdateOptions
	FindOneOpts store.FindOneAndUpdateOptions
	FindOpts    store.FindOptions
	Session     bool
}

// Database is a fake store.Database.
type Database struct {
	mu       sync.Mutex
	name     string
	colls    map[string]*Collection
	Commands []any
	// CommandErr is returned by RunCommand.
	CommandErr error
}

// NewDatabase creates an empty fake database.
func NewDatabase(name string) *Database {
	return &Database{name: name, colls: make(map[string]*Collection)}
}

func (d *Database) Name() string { return d.name }

// Collection returns the named collection, creating it on first use.
func (d *Database) Collection(name string) store.Collection {
	return d.Coll(name)
}

// Coll is Collection with the concrete fake type.
func (d *Database) Coll(name string) *Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.colls[name]
	if !ok {
		c = &Collection{name: name, Errors: make(map[string]error)}
		d.colls[name] = c
	}
	return c
}

func (d *Database) RunCommand(_ context.Context, cmd any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Commands = append(d.Commands, cmd)
	return d.CommandErr
}

// Collection is a fake store.Collection.
type Collection struct {
	mu    sync.Mutex
	name  string
	calls []Call

	// Find and Aggregate results are consumed in order; an exhausted queue
	// yields no documents.
	FindResults      [][]bson.Raw
	AggregateResults [][]bson.Raw
	// FindOneAndUpdateResults are consumed in order.
	FindOneAndUpdateResults []bson.Raw
	// UpdateResult overrides the default {matched: 1, modified: 1}.
	UpdateResult *mongo.UpdateResult
	// BulkResult overrides the counts derived from the submitted models.
	BulkResult *mongo.BulkWriteResult
	Count      int64
	// Errors maps an operation name such as "UpdateMany" to its error.
	Errors map[string]error
}

func (c *Collection) Name() string { return c.name }

// Calls returns the recorded calls, optionally limited to one operation.
func (c *Collection) Calls(op ...string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(op) == 0 {
		return append([]Call(nil), c.calls...)
	}
	var out []Call
	for _, call := range c.calls {
		if call.Op == op[0] {
			out = append(out, call)
		}
	}
	return out
}

func (c *Collection) record(ctx context.Context, call Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	call.Session = mongo.SessionFromContext(ctx) != nil
	c.calls = append(c.calls, call)
	return c.Errors[call.Op]
}

func (c *Collection) InsertOne(ctx context.Context, doc any) (*mongo.InsertOneResult, error) {
	if err := c.record(ctx, Call{Op: "InsertOne", Docs: []any{doc}}); err != nil {
		return nil, err
	}
	return &mongo.InsertOneResult{InsertedID: idOf(doc), Acknowledged: true}, nil
}

func (c *Collection) InsertMany(ctx context.Context, docs []any, ordered bool) (*mongo.InsertManyResult, error) {
	if err := c.record(ctx, Call{Op: "InsertMany", Docs: docs, Ordered: ordered}); err != nil {
		return nil, err
	}
	ids := make([]any, len(docs))
	for i, d := range docs {
		ids[i] = idOf(d)
	}
	return &mongo.InsertManyResult{InsertedIDs: ids, Acknowledged: true}, nil
}

func (c *Collection) UpdateOne(ctx context.Context, filter, update any, opts store.UpdateOptions) (*mongo.UpdateResult, error) {
	if err := c.record(ctx, Call{Op: "UpdateOne", Filter: filter, Update: update, UpdateOpts: opts}); err != nil {
		return nil, err
	}
	return c.updateResult(), nil
}

func (c *Collection) UpdateMany(ctx context.Context, filter, update any, opts store.UpdateOptions) (*mongo.UpdateResult, error) {
	if err := c.record(ctx, Call{Op: "UpdateMany", Filter: filter, Update: update, UpdateOpts: opts}); err != nil {
		return nil, err
	}
	return c.updateResult(), nil
}

func (c *Collection) updateResult() *mongo.UpdateResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.UpdateResult != nil {
		r := *c.UpdateResult
		return &r
	}
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1, Acknowledged: true}
}

func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update any, opts store.FindOneAndUpdateOptions) (bson.Raw, error) {
	if err := c.record(ctx, Call{Op: "FindOneAndUpdate", Filter: filter, Update: update, FindOneOpts: opts}); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.FindOneAndUpdateResults) == 0 {
		return nil, nil
	}
	doc := c.FindOneAndUpdateResults[0]
	c.FindOneAndUpdateResults = c.FindOneAndUpdateResults[1:]
	return doc, nil
}

func (c *Collection) BulkWrite(ctx context.Context, models []mongo.WriteModel, ordered bool) (*mongo.BulkWriteResult, error) {
	if err := c.record(ctx, Call{Op: "BulkWrite", Models: models, Ordered: ordered}); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BulkResult != nil {
		r := *c.BulkResult
		return &r, nil
	}
	res := &mongo.BulkWriteResult{Acknowledged: true}
	for _, m := range models {
		switch m.(type) {
		case *mongo.InsertOneModel:
			res.InsertedCount++
		case *mongo.UpdateOneModel, *mongo.UpdateManyModel, *mongo.ReplaceOneModel:
			res.MatchedCount++
			res.ModifiedCount++
		}
	}
	return res, nil
}

func (c *Collection) Aggregate(ctx context.Context, pipeline any) ([]bson.Raw, error) {
	if err := c.record(ctx, Call{Op: "Aggregate", Pipeline: pipeline}); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return pop(&c.AggregateResults), nil
}

func (c *Collection) Find(ctx context.Context, filter any, opts store.FindOptions) ([]bson.Raw, error) {
	if err := c.record(ctx, Call{Op: "Find", Filter: filter, FindOpts: opts}); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return pop(&c.FindResults), nil
}

func (c *Collection) CountDocuments(ctx context.Context, filter any) (int64, error) {
	if err := c.record(ctx, Call{Op: "CountDocuments", Filter: filter}); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Count, nil
}

func (c *Collection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) error {
	return c.record(ctx, Call{Op: "CreateIndexes", Indexes: models})
}

func pop(q *[][]bson.Raw) []bson.Raw {
	if len(*q) == 0 {
		return nil
	}
	docs := (*q)[0]
	*q = (*q)[1:]
	return docs
}

func idOf(doc any) any {
	if d, ok := doc.(bson.D); ok {
		for _, e := range d {
			if e.Key == "_id" {
				return e.Value
			}
		}
	}
	return bson.NewObjectID()
}

// MustRaw marshals v into a raw document, panicking on failure.
func MustRaw(v any) bson.Raw {
	raw, err := bson.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
