// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tomtom215/mongotrack/internal/api"
	"github.com/tomtom215/mongotrack/internal/config"
	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/store"
	"github.com/tomtom215/mongotrack/internal/supervisor"
	"github.com/tomtom215/mongotrack/internal/supervisor/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal().Err(err).Msg("trackd stopped with an error")
	}
	logging.Info().Msg("trackd stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logging.Info().
		Str("database", cfg.Mongo.Database).
		Int("collections", len(cfg.Track.Collections)).
		Bool("publisher", cfg.Publisher.Enabled).
		Msg("Starting trackd")

	client, err := store.Connect(ctx, cfg.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := client.Disconnect(dctx); err != nil {
			logging.Error().Err(err).Msg("Error disconnecting from MongoDB")
		}
	}()

	publisher, err := newPublisher(cfg.Publisher)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing event publisher")
			}
		}()
	}

	tracker, err := newTracker(ctx, client.Database(), cfg.Track, publisher)
	if err != nil {
		return err
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	if cfg.Track.SweepInterval > 0 {
		tree.AddTrackingService(services.NewSweepService(tracker, cfg.Track.SweepInterval))
	}

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           api.NewRouter(api.NewHandler(tracker, client), api.NewChiMiddleware(api.MiddlewareConfigFrom(cfg.Server))),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, shutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("Diagnostics API listening")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	return nil
}
