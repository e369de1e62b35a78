// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package logging provides zerolog-based structured logging for mongotrack.
//
// A global logger is configured once at startup with Init and read through
// the level helpers:
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("collection", "articles").Msg("Tracker registered")
//
// # Context
//
// Intercepted writes carry a correlation ID and the collection/operation
// pair in their context. Ctx builds a logger with those fields attached:
//
//	ctx = logging.ContextWithNewCorrelationID(ctx)
//	ctx = logging.ContextWithOperation(ctx, "articles", "bulkWrite")
//	logging.Ctx(ctx).Debug().Msg("Rewrote update as pipeline")
//
// The correlation ID is also stamped on shadow records, so it is a full
// UUID rather than a short log token.
//
// # Adapters
//
// SlogHandler bridges slog for the suture supervisor tree, and
// WatermillAdapter implements watermill.LoggerAdapter for the change
// event publisher. Both write through the same zerolog sink.
package logging
