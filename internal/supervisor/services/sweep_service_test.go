// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/notify"
)

type fakeDrainer struct {
	calls atomic.Int32
	err   error
}

func (d *fakeDrainer) DrainAll(context.Context) (notify.Result, error) {
	d.calls.Add(1)
	return notify.Result{Changes: 1}, d.err
}

func TestSweepService_Interface(t *testing.T) {
	var _ suture.Service = (*SweepService)(nil)
}

func TestSweepService_Serve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "delivers"},
		{name: "keeps sweeping after errors", err: errors.New("no servers")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := &fakeDrainer{err: tt.err}
			svc := NewSweepService(d, 10*time.Millisecond)

			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() { errCh <- svc.Serve(ctx) }()

			deadline := time.Now().Add(2 * time.Second)
			for d.calls.Load() < 3 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			cancel()

			select {
			case err := <-errCh:
				if !errors.Is(err, context.Canceled) {
					t.Errorf("expected context.Canceled, got %v", err)
				}
			case <-time.After(time.Second):
				t.Fatal("Serve did not return after cancellation")
			}
			if got := d.calls.Load(); got < 3 {
				t.Errorf("expected at least 3 sweeps, got %d", got)
			}
		})
	}
}

func TestSweepService_String(t *testing.T) {
	if got := NewSweepService(&fakeDrainer{}, time.Second).String(); got != "pending-sweeper" {
		t.Errorf("expected pending-sweeper, got %q", got)
	}
}

type loggingDrainer struct{}

func (loggingDrainer) DrainAll(ctx context.Context) (notify.Result, error) {
	logging.Ctx(ctx).Info().Msg("drained articles")
	return notify.Result{}, nil
}

func TestSweepService_SweepLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	svc := NewSweepService(loggingDrainer{}, time.Second)
	svc.logger = logging.NewTestLogger(&buf).With().Str("component", "sweeper").Logger()

	svc.sweep(context.Background())

	out := buf.String()
	for _, want := range []string{`"component":"sweeper"`, `"correlation_id":"`, `"message":"drained articles"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}
