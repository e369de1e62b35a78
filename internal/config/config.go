// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package config

import (
	"time"
)

// Config holds all daemon configuration.
type Config struct {
	Mongo     MongoConfig     `koanf:"mongo"`
	Track     TrackConfig     `koanf:"track"`
	Publisher PublisherConfig `koanf:"publisher"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// MongoConfig holds the connection settings of the tracked database.
type MongoConfig struct {
	URI            string        `koanf:"uri" validate:"required"`
	Database       string        `koanf:"database" validate:"required"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	MaxPoolSize    uint64        `koanf:"max_pool_size"`
}

// TrackConfig holds tracker behavior and the tracked collection schemas.
type TrackConfig struct {
	// InfoSuffix is appended to a field name to form its shadow record name.
	InfoSuffix string `koanf:"info_suffix" validate:"required,fieldname"`

	// DefaultOrigin is stamped on shadow records when a write sets no origin.
	DefaultOrigin string `koanf:"default_origin"`

	// NotifyOnInsert marks inserted values as pending so they reach callbacks
	// and the ledger.
	NotifyOnInsert bool `koanf:"notify_on_insert"`

	// LedgerCollectionPrefix is prepended to every historize collection.
	LedgerCollectionPrefix string `koanf:"ledger_collection_prefix"`

	// ApplyValidators installs a $jsonSchema validator on each registered
	// collection at startup.
	ApplyValidators bool `koanf:"apply_validators"`

	// SweepInterval is how often the daemon drains leftover pending records.
	// Zero disables the sweeper.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	Collections []CollectionConfig `koanf:"collections" validate:"dive"`
}

// CollectionConfig declares the schema of one tracked collection.
type CollectionConfig struct {
	Name   string        `koanf:"name" validate:"required,collection"`
	Fields []FieldConfig `koanf:"fields" validate:"required,dive"`
}

// FieldConfig declares one field of a collection schema.
type FieldConfig struct {
	Name string `koanf:"name" validate:"required,fieldname"`

	// Kind is scalar, embedded, array or array_of_embedded. Empty means
	// scalar, or embedded when children are declared.
	Kind string `koanf:"kind" validate:"omitempty,oneof=scalar embedded array array_of_embedded"`

	BSONType string `koanf:"bson_type"`
	Enum     []any  `koanf:"enum"`

	Track               bool              `koanf:"track"`
	Origin              string            `koanf:"origin"`
	HistorizeCollection string            `koanf:"historize_collection" validate:"omitempty,collection"`
	HistorizeField      string            `koanf:"historize_field" validate:"omitempty,fieldname"`
	Publish             bool              `koanf:"publish"`
	Metadata            map[string]string `koanf:"metadata"`

	Children []FieldConfig `koanf:"children" validate:"dive"`
}

// PublisherConfig holds the NATS change event publisher settings.
type PublisherConfig struct {
	Enabled                 bool          `koanf:"enabled"`
	URL                     string        `koanf:"url"`
	TopicPrefix             string        `koanf:"topic_prefix"`
	JetStream               bool          `koanf:"jetstream"`
	MaxReconnects           int           `koanf:"max_reconnects"`
	ReconnectWait           time.Duration `koanf:"reconnect_wait"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
}

// ServerConfig holds the diagnostics API settings.
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit   int      `koanf:"rate_limit" validate:"min=0"`
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from defaults, the optional config file and
// environment variables.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
