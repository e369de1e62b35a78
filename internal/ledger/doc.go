// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package ledger appends drained changes to historize collections.
//
// A ledger row records one value of one field of one entity over a time
// interval. Rows are opened when a value is observed and closed when the
// next value arrives:
//
//	{entityId, itemId?, path, start, end: null, value, previousValue?, origin?, metadata?}
//
// Closing sets end to the start of the new row, nextValue to the new value
// and duration to end - start in milliseconds. The close and the insert are
// submitted in one ordered bulk write, close first, so at most one row per
// (entityId, itemId, path) is open at any time.
package ledger
