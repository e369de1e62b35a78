// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package update

import "errors"

var (
	// ErrInvalidUpdate is returned for update documents that cannot be read.
	ErrInvalidUpdate = errors.New("invalid update")
	// ErrUnsupportedOperator is returned for operators that have no
	// pipeline translation.
	ErrUnsupportedOperator = errors.New("unsupported operator")
	// ErrPositionalWithoutMatch is returned when "$" is used but the filter
	// has no condition on the array.
	ErrPositionalWithoutMatch = errors.New("positional operator without matching filter condition")
)
