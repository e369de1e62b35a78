// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package notify

import (
	"errors"
	"fmt"
)

// Drain stages.
const (
	StageFind     = "find"
	StageClear    = "clear"
	StageDecode   = "decode"
	StageCallback = "callback"
	StageLedger   = "ledger"
	StagePublish  = "publish"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// DrainError reports the drain stage that failed. The write that triggered
// the drain has already been applied.
type DrainError struct {
	Collection string
	Stage      string
	Err        error
}

func (e *DrainError) Error() string {
	return fmt.Sprintf("drain %s: %s: %v", e.Collection, e.Stage, e.Err)
}

func (e *DrainError) Unwrap() error {
	return e.Err
}
