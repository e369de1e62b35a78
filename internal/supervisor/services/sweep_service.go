// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/notify"
)

// Drainer drains every tracked collection. Satisfied by *track.Tracker.
type Drainer interface {
	DrainAll(ctx context.Context) (notify.Result, error)
}

// SweepService periodically drains pending records that a failed
// post-write drain left behind. A sweep error is logged and the next tick
// retries; it does not restart the service.
type SweepService struct {
	drainer  Drainer
	interval time.Duration
	name     string
	logger   zerolog.Logger
}

// NewSweepService creates a sweeper running every interval.
func NewSweepService(drainer Drainer, interval time.Duration) *SweepService {
	return &SweepService{
		drainer:  drainer,
		interval: interval,
		name:     "pending-sweeper",
		logger:   logging.WithComponent("sweeper"),
	}
}

// Serve implements suture.Service. The first sweep runs immediately.
func (s *SweepService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *SweepService) sweep(ctx context.Context) {
	// Drain logs of a sweep carry component=sweeper and one correlation ID.
	ctx = logging.ContextWithLogger(logging.ContextWithNewCorrelationID(ctx), s.logger)
	start := time.Now()

	res, err := s.drainer.DrainAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.Ctx(ctx).Warn().Err(err).Msg("Pending sweep failed")
		return
	}
	if res.Changes > 0 {
		logging.Ctx(ctx).Info().
			Int("documents", res.Documents).
			Int("changes", res.Changes).
			Int("ledger_rows", res.LedgerRows).
			Dur("duration", time.Since(start)).
			Msg("Pending sweep delivered changes")
	}
}

// String names the service in supervisor logs.
func (s *SweepService) String() string {
	return s.name
}
