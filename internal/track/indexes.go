// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package track

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/schema"
)

// namespaceNotFound is the server error code of collMod on a missing
// collection.
const namespaceNotFound = 26

// IndexModels returns the shadow indexes of the collection: one on every
// recorded value and a partial one on every pending flag read by the drain.
func (c *Collection) IndexModels() []mongo.IndexModel {
	models := make([]mongo.IndexModel, 0, len(c.fields)+len(c.drained))
	for _, f := range c.fields {
		models = append(models, mongo.IndexModel{
			Keys: bson.D{{Key: f.InfoPath.Child(change.KeyValue).String(), Value: 1}},
		})
	}
	for _, f := range c.drained {
		key := f.InfoPath.Child(change.KeyChangePending).String()
		models = append(models, mongo.IndexModel{
			Keys: bson.D{{Key: key, Value: 1}},
			Options: options.Index().
				SetPartialFilterExpression(bson.D{{Key: key, Value: true}}),
		})
	}
	return models
}

// EnsureIndexes creates the shadow indexes, the indexes of every ledger
// collection the fields historize to and, when enabled on the tracker,
// the $jsonSchema validator.
func (c *Collection) EnsureIndexes(ctx context.Context) error {
	if err := c.coll.CreateIndexes(ctx, c.IndexModels()); err != nil {
		return fmt.Errorf("create indexes on %s: %w", c.Name(), err)
	}

	done := make(map[string]bool)
	for _, f := range c.fields {
		target := f.HistorizeCollection
		if target == "" || done[target] {
			continue
		}
		done[target] = true
		if err := c.tracker.ledger.EnsureIndexes(ctx, target); err != nil {
			return err
		}
	}

	if c.tracker.validators {
		if err := c.applyValidator(ctx); err != nil {
			return err
		}
	}
	logging.Info().Str("collection", c.Name()).Int("ledgers", len(done)).Msg("Tracking indexes ensured")
	return nil
}

func (c *Collection) applyValidator(ctx context.Context) error {
	validator := bson.D{{Key: "$jsonSchema", Value: schema.JSONSchema(c.schema)}}
	err := c.tracker.db.RunCommand(ctx, bson.D{
		{Key: "collMod", Value: c.Name()},
		{Key: "validator", Value: validator},
	})
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == namespaceNotFound {
		err = c.tracker.db.RunCommand(ctx, bson.D{
			{Key: "create", Value: c.Name()},
			{Key: "validator", Value: validator},
		})
	}
	if err != nil {
		return fmt.Errorf("apply validator to %s: %w", c.Name(), err)
	}
	return nil
}
