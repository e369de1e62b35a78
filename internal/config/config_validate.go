// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package config

import (
	"errors"
	"fmt"

	"github.com/tomtom215/mongotrack/internal/validation"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks struct tags first, then the cross-field rules.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, verr.Error())
	}
	for _, check := range []func() error{
		c.validateMongo,
		c.validateTrack,
		c.validatePublisher,
	} {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

func (c *Config) validateMongo() error {
	if err := validateMongoURI(c.Mongo.URI); err != nil {
		return fmt.Errorf("MONGO_URI is invalid: %w", err)
	}
	if c.Mongo.ConnectTimeout < 0 {
		return fmt.Errorf("MONGO_CONNECT_TIMEOUT must not be negative, got %v", c.Mongo.ConnectTimeout)
	}
	return nil
}

func (c *Config) validateTrack() error {
	if c.Track.SweepInterval < 0 {
		return fmt.Errorf("TRACK_SWEEP_INTERVAL must not be negative, got %v", c.Track.SweepInterval)
	}
	seen := make(map[string]bool, len(c.Track.Collections))
	for _, coll := range c.Track.Collections {
		if seen[coll.Name] {
			return fmt.Errorf("collection %q is declared twice", coll.Name)
		}
		seen[coll.Name] = true
		if err := validateFields(coll.Name, coll.Fields); err != nil {
			return err
		}
	}
	return nil
}

// validateFields checks sibling uniqueness and that tracking options are
// only set on tracked fields.
func validateFields(prefix string, fields []FieldConfig) error {
	seen := make(map[string]bool, len(fields))
	for i := range fields {
		f := &fields[i]
		path := prefix + "." + f.Name
		if seen[f.Name] {
			return fmt.Errorf("field %s is declared twice", path)
		}
		seen[f.Name] = true

		if !f.Track && (f.HistorizeCollection != "" || f.HistorizeField != "" || f.Publish || f.Origin != "" || len(f.Metadata) > 0) {
			return fmt.Errorf("field %s sets tracking options but track is false", path)
		}
		switch f.kind() {
		case "scalar", "array":
			if len(f.Children) > 0 {
				return fmt.Errorf("field %s of kind %s cannot declare children", path, f.kind())
			}
		}
		if err := validateFields(path, f.Children); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validatePublisher() error {
	if !c.Publisher.Enabled {
		return nil
	}
	if err := validateNATSURL(c.Publisher.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	if c.Publisher.TopicPrefix == "" {
		return fmt.Errorf("NATS_TOPIC_PREFIX is required when the publisher is enabled")
	}
	if c.Publisher.BreakerFailureThreshold == 0 {
		return fmt.Errorf("NATS_BREAKER_THRESHOLD must be at least 1")
	}
	return nil
}
