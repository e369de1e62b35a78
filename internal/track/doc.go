// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

/*
Package track intercepts the write paths of registered collections.

A Tracker owns the registry of tracked collections of one database:

	t := track.New(db,
	    track.WithDefaultOrigin(change.StaticOrigin("trackd")),
	    track.WithPublisher(pub),
	)
	articles, err := t.Register(articleSchema)

	res, err := articles.UpdateOne(ctx,
	    bson.D{{Key: "code", Value: "A001"}},
	    bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: "rupture"}}}},
	    track.WithOrigin("backoffice"),
	)

Every write runs in three steps:

  - The update is checked against every tracked path. When one is touched,
    it is rewritten as a pipeline and the change-set stage is appended, so
    the value and its shadow record change in the same atomic write.
    Inserts are stamped with initial records instead.
  - The store call runs with the caller's context, including any session.
  - When the write modified or upserted a document, the collection is
    drained: pending records are read, cleared and delivered to callbacks,
    the ledger and the event publisher.

A drain error is returned together with the write result; the write itself
has already been applied. Each call gets a fresh correlation ID that is
stamped on the records it changes and attached to its log lines.

SkipTracking sends a call to the store untouched.
*/
package track
