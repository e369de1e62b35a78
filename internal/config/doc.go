// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package config loads trackd configuration with koanf.
//
// Sources are layered defaults, then an optional YAML file (CONFIG_PATH,
// ./config.yaml, /etc/mongotrack/config.yaml), then environment variables
// such as MONGO_URI, NATS_URL, HTTP_PORT and LOG_LEVEL. The result is
// validated with validator/v10 struct tags followed by cross-field checks;
// every failure wraps ErrInvalidConfig.
//
// Tracked collections are declared under track.collections:
//
//	track:
//	  notify_on_insert: true
//	  collections:
//	    - name: articles
//	      fields:
//	        - name: status
//	          track: true
//	          historize_collection: articles_status
//	          metadata: {code: "$code"}
//	        - name: lines
//	          kind: array_of_embedded
//	          children:
//	            - {name: quantity, bson_type: int, track: true, publish: true}
//
// CollectionConfig.Schema converts a declaration into a schema.Schema for
// the tracker.
package config
