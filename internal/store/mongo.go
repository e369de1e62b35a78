// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tomtom215/mongotrack/internal/config"
	"github.com/tomtom215/mongotrack/internal/logging"
)

// Client owns the driver connection of the daemon.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens a client for cfg and pings the primary.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Client, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logging.Info().Str("database", cfg.Database).Msg("Connected to MongoDB")
	return &Client{client: client, db: client.Database(cfg.Database)}, nil
}

// Database returns the configured database.
func (c *Client) Database() Database {
	return NewDatabase(c.db)
}

// Ping checks the connection, for health endpoints.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

// Disconnect closes the connection pool.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// NewDatabase adapts a driver database.
func NewDatabase(db *mongo.Database) Database {
	return &database{db: db}
}

type database struct {
	db *mongo.Database
}

func (d *database) Name() string { return d.db.Name() }

func (d *database) Collection(name string) Collection {
	return &collection{coll: d.db.Collection(name)}
}

func (d *database) RunCommand(ctx context.Context, cmd any) error {
	return d.db.RunCommand(ctx, cmd).Err()
}

type collection struct {
	coll *mongo.Collection
}

func (c *collection) Name() string { return c.coll.Name() }

func (c *collection) InsertOne(ctx context.Context, doc any) (*mongo.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, doc)
}

func (c *collection) InsertMany(ctx context.Context, docs []any, ordered bool) (*mongo.InsertManyResult, error) {
	return c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(ordered))
}

func (c *collection) UpdateOne(ctx context.Context, filter, update any, opts UpdateOptions) (*mongo.UpdateResult, error) {
	o := options.UpdateOne().SetUpsert(opts.Upsert)
	if len(opts.ArrayFilters) > 0 {
		o.SetArrayFilters(opts.ArrayFilters)
	}
	return c.coll.UpdateOne(ctx, filter, update, o)
}

func (c *collection) UpdateMany(ctx context.Context, filter, update any, opts UpdateOptions) (*mongo.UpdateResult, error) {
	o := options.UpdateMany().SetUpsert(opts.Upsert)
	if len(opts.ArrayFilters) > 0 {
		o.SetArrayFilters(opts.ArrayFilters)
	}
	return c.coll.UpdateMany(ctx, filter, update, o)
}

func (c *collection) FindOneAndUpdate(ctx context.Context, filter, update any, opts FindOneAndUpdateOptions) (bson.Raw, error) {
	o := options.FindOneAndUpdate().SetUpsert(opts.Upsert)
	if opts.ReturnAfter {
		o.SetReturnDocument(options.After)
	}
	if opts.Projection != nil {
		o.SetProjection(opts.Projection)
	}
	if opts.Sort != nil {
		o.SetSort(opts.Sort)
	}
	if len(opts.ArrayFilters) > 0 {
		o.SetArrayFilters(opts.ArrayFilters)
	}

	raw, err := c.coll.FindOneAndUpdate(ctx, filter, update, o).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	return raw, err
}

func (c *collection) BulkWrite(ctx context.Context, models []mongo.WriteModel, ordered bool) (*mongo.BulkWriteResult, error) {
	return c.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(ordered))
}

func (c *collection) Aggregate(ctx context.Context, pipeline any) ([]bson.Raw, error) {
	cur, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	return all(ctx, cur)
}

func (c *collection) Find(ctx context.Context, filter any, opts FindOptions) ([]bson.Raw, error) {
	o := options.Find()
	if opts.Projection != nil {
		o.SetProjection(opts.Projection)
	}
	if opts.Sort != nil {
		o.SetSort(opts.Sort)
	}
	if opts.Limit > 0 {
		o.SetLimit(opts.Limit)
	}
	cur, err := c.coll.Find(ctx, filter, o)
	if err != nil {
		return nil, err
	}
	return all(ctx, cur)
}

func (c *collection) CountDocuments(ctx context.Context, filter any) (int64, error) {
	return c.coll.CountDocuments(ctx, filter)
}

func (c *collection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) error {
	if len(models) == 0 {
		return nil
	}
	_, err := c.coll.Indexes().CreateMany(ctx, models)
	return err
}

// all drains a cursor into raw documents, copying each one since the
// cursor reuses its buffer.
func all(ctx context.Context, cur *mongo.Cursor) ([]bson.Raw, error) {
	defer func() { _ = cur.Close(ctx) }()

	var docs []bson.Raw
	for cur.Next(ctx) {
		doc := make(bson.Raw, len(cur.Current))
		copy(doc, cur.Current)
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
