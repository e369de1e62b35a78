// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tomtom215/mongotrack/internal/logging"
)

func newTestTree(t *testing.T, config TreeConfig) *SupervisorTree {
	t.Helper()
	logger := slog.New(logging.NewSlogHandlerWithLogger(logging.NewTestLogger(io.Discard)))
	tree, err := NewSupervisorTree(logger, config)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	return tree
}

func TestNewSupervisorTree_Defaults(t *testing.T) {
	t.Parallel()

	tree := newTestTree(t, TreeConfig{})
	if tree.Root() == nil {
		t.Fatal("expected a root supervisor")
	}
	if tree.config != DefaultTreeConfig() {
		t.Errorf("expected defaults %+v, got %+v", DefaultTreeConfig(), tree.config)
	}
}

func TestSupervisorTree_Lifecycle(t *testing.T) {
	t.Parallel()

	tree := newTestTree(t, TreeConfig{ShutdownTimeout: time.Second})
	sweeper := newMockService("sweeper")
	server := newMockService("http")
	tree.AddTrackingService(sweeper)
	tree.AddAPIService(server)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(time.Second)
	for (sweeper.starts() == 0 || server.starts() == 0) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sweeper.starts() == 0 || server.starts() == 0 {
		t.Fatalf("expected both layers started, got %d and %d", sweeper.starts(), server.starts())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down in time")
	}
}

func TestSupervisorTree_RestartsFailingService(t *testing.T) {
	t.Parallel()

	tree := newTestTree(t, TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	failing := newMockService("failing")
	failing.maxFails = 2
	stable := newMockService("stable")
	tree.AddTrackingService(failing)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	for failing.starts() < 3 && ctx.Err() == nil {
		time.Sleep(10 * time.Millisecond)
	}
	if failing.starts() < 3 {
		t.Errorf("expected at least 3 starts, got %d", failing.starts())
	}
	if stable.starts() != 1 {
		t.Errorf("expected the api layer unaffected, got %d starts", stable.starts())
	}
	cancel()
	<-errCh
}
