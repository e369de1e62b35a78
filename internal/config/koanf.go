// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/mongotrack/config.yaml",
	"/etc/mongotrack/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Mongo: MongoConfig{
			URI:            "mongodb://127.0.0.1:27017",
			Database:       "mongotrack",
			ConnectTimeout: 10 * time.Second,
			MaxPoolSize:    100,
		},
		Track: TrackConfig{
			InfoSuffix:             "Info",
			DefaultOrigin:          "",
			NotifyOnInsert:         false,
			LedgerCollectionPrefix: "",
			ApplyValidators:        false,
			SweepInterval:          time.Minute,
		},
		Publisher: PublisherConfig{
			Enabled:                 false,
			URL:                     "nats://127.0.0.1:4222",
			TopicPrefix:             "mongotrack",
			JetStream:               false,
			MaxReconnects:           -1,
			ReconnectWait:           2 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerTimeout:          30 * time.Second,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8089,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateLimit:    300,
			CORSOrigins:  []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration in layers, later layers winning:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables
//
// Collection schemas nest too deeply for environment variables and are
// only read from the config file.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"mongo_uri":             "mongo.uri",
	"mongo_database":        "mongo.database",
	"mongo_connect_timeout": "mongo.connect_timeout",
	"mongo_max_pool_size":   "mongo.max_pool_size",

	"track_info_suffix":      "track.info_suffix",
	"track_default_origin":   "track.default_origin",
	"track_notify_on_insert": "track.notify_on_insert",
	"track_ledger_prefix":    "track.ledger_collection_prefix",
	"track_apply_validators": "track.apply_validators",
	"track_sweep_interval":   "track.sweep_interval",

	"nats_enabled":           "publisher.enabled",
	"nats_url":               "publisher.url",
	"nats_topic_prefix":      "publisher.topic_prefix",
	"nats_jetstream":         "publisher.jetstream",
	"nats_max_reconnects":    "publisher.max_reconnects",
	"nats_reconnect_wait":    "publisher.reconnect_wait",
	"nats_breaker_threshold": "publisher.breaker_failure_threshold",
	"nats_breaker_timeout":   "publisher.breaker_timeout",

	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_read_timeout":   "server.read_timeout",
	"http_write_timeout":  "server.write_timeout",
	"rate_limit_requests": "server.rate_limit",
	"cors_origins":        "server.cors_origins",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps environment variable names to koanf paths, for
// example MONGO_URI -> mongo.uri and HTTP_PORT -> server.port. Unmapped
// variables are dropped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
