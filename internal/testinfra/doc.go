// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package testinfra starts the containers used by integration tests.
//
// Every file is behind the integration build tag:
//
//	go test -tags integration ./...
//
// StartMongo runs a disposable MongoDB and returns a connected store
// database named after the test:
//
//	func TestScenario(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    mongo := testinfra.StartMongo(t)
//	    tracker := track.New(mongo.Database(t))
//	    // ...
//	}
package testinfra
