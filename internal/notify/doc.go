// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package notify drains pending shadow records after a write and delivers
// the changes.
//
// A write marks every changed record of a consumer field with
// changePending: true in the same update that changes the value. Drain
// then runs, in order:
//
//  1. find: one aggregation matching documents with a pending record and
//     projecting only the pending records
//  2. clear: one unordered bulk write with an update per document read in
//     step 1, flipping changePending back to false on the records that
//     still carry the correlationId and updatedAt they were read with
//  3. callback: one call per field with the whole batch for that field
//  4. ledger: one ordered bulk write per historize collection
//  5. publish: one message per change on the event publisher
//
// The clear runs before any delivery so a failing callback never leaves a
// record pending. A write landing between the read and the clear re-tags
// the record with its own correlationId, so the clear leaves it pending
// for the next drain. Two drains that read the same record both deliver it.
//
// Errors from steps 3 to 5 do not stop the other steps. They are returned
// together as *DrainError values joined with errors.Join.
package notify
