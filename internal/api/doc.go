// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

/*
Package api serves the read-only diagnostics API of trackd.

Routes:

	GET /api/v1/health                       database reachability and registry size
	GET /api/v1/collections                  tracked collections and their fields
	GET /api/v1/pending/{collection}         documents holding pending records
	GET /api/v1/ledger/{collection}          ledger rows, newest first
	GET /api/v1/ledger/{collection}/open     rows that are still open
	GET /metrics                             Prometheus metrics

{collection} in the ledger routes is the historize collection name without
the configured prefix. Ledger routes accept the query parameters entityId,
itemId, path, since, until (RFC 3339) and limit. An entityId or itemId that
is a 24 character hex string is matched as an ObjectID.

Every response except /metrics uses the APIResponse envelope.
*/
package api
