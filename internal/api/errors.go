// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package api

import "errors"

var (
	// ErrInvalidTime is returned for since/until values that are not RFC 3339.
	ErrInvalidTime = errors.New("invalid time, expected RFC 3339")

	// ErrInvalidLimit is returned for a limit that is not an integer.
	ErrInvalidLimit = errors.New("invalid limit")
)
