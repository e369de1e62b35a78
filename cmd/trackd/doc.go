// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Command trackd registers the tracked collections declared in its
// configuration, installs their indexes and validators, and then runs two
// supervised services until SIGINT or SIGTERM:
//
//   - the pending sweeper, which drains leftover pending records every
//     track.sweep_interval
//   - the read-only diagnostics API with /metrics
//
// Startup order:
//
//  1. Configuration: defaults, config.yaml, then environment (koanf)
//  2. Logging: zerolog
//  3. MongoDB connection
//  4. Change event publisher, when publisher.enabled
//  5. Tracker registry and EnsureIndexes per collection
//  6. Supervisor tree
//
// Example:
//
//	export MONGO_URI=mongodb://db:27017/?replicaSet=rs0
//	export MONGO_DATABASE=shop
//	export CONFIG_PATH=/etc/mongotrack/config.yaml
//	./trackd
package main
