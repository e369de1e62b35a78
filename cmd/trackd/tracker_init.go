// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/config"
	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/notify"
	"github.com/tomtom215/mongotrack/internal/store"
	"github.com/tomtom215/mongotrack/internal/track"
)

// newPublisher returns nil when publishing is disabled.
func newPublisher(cfg config.PublisherConfig) (*notify.EventPublisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	pub, err := notify.NewNATSPublisher(cfg, logging.NewWatermillAdapter())
	if err != nil {
		return nil, fmt.Errorf("create event publisher: %w", err)
	}
	logging.Info().
		Str("url", cfg.URL).
		Str("topic_prefix", cfg.TopicPrefix).
		Bool("jetstream", cfg.JetStream).
		Msg("Change event publisher ready")
	return pub, nil
}

func trackerOptions(cfg config.TrackConfig, publisher notify.Publisher) []track.Option {
	opts := []track.Option{
		track.WithInfoSuffix(cfg.InfoSuffix),
		track.WithNotifyOnInsert(cfg.NotifyOnInsert),
		track.WithValidators(cfg.ApplyValidators),
		track.WithLedgerPrefix(cfg.LedgerCollectionPrefix),
	}
	if cfg.DefaultOrigin != "" {
		opts = append(opts, track.WithDefaultOrigin(change.StaticOrigin(cfg.DefaultOrigin)))
	}
	if publisher != nil {
		opts = append(opts, track.WithPublisher(publisher))
	}
	return opts
}

// newTracker registers every configured collection and ensures its indexes.
func newTracker(ctx context.Context, db store.Database, cfg config.TrackConfig, publisher *notify.EventPublisher) (*track.Tracker, error) {
	// A nil *EventPublisher must not become a non-nil interface.
	var p notify.Publisher
	if publisher != nil {
		p = publisher
	}
	tracker := track.New(db, trackerOptions(cfg, p)...)

	for _, s := range cfg.Schemas() {
		c, err := tracker.Register(s)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", s.Collection, err)
		}
		if err := c.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure indexes of %s: %w", s.Collection, err)
		}
	}
	return tracker, nil
}
