// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

// Package config defines the Watchdial configuration model and its layered
// loader (defaults -> YAML file -> environment variables) built on Koanf v2.
package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Watchdial server.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Monitor     MonitorConfig     `koanf:"monitor"`
	MediaServer MediaServerConfig `koanf:"mediaserver"`
	API         APIConfig         `koanf:"api"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// MediaServerConfig points at the media server whose sessions are observed.
// An empty URL disables live-session confirmation lookups and display name
// resolution.
type MediaServerConfig struct {
	URL     string        `koanf:"url" validate:"omitempty,url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host" validate:"required"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// DatabaseConfig holds DuckDB record store settings.
type DatabaseConfig struct {
	// Path is the database file path; ":memory:" opens an in-memory store.
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB worker thread count; 0 means runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`
}

// MonitorConfig tunes the session tracking state machine.
type MonitorConfig struct {
	// ConfirmationDelay is how long after a playback start the confirmation
	// task waits before checking the live session identity.
	ConfirmationDelay time.Duration `koanf:"confirmation_delay" validate:"min=1s"`

	// ProgressDebounce is the minimum spacing between accepted progress
	// updates for a session.
	ProgressDebounce time.Duration `koanf:"progress_debounce" validate:"min=1s"`

	// RetentionDays is how long playback records are kept; 0 disables
	// retention pruning.
	RetentionDays int `koanf:"retention_days" validate:"min=0"`

	// RetentionInterval is how often the retention pruner runs.
	RetentionInterval time.Duration `koanf:"retention_interval" validate:"min=1m"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs is the per-client request budget per RateLimitWindow.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"min=1s"`

	// CustomQueryPerMinute caps ad-hoc query executions; these bypass all
	// prepared-report paths and can be expensive.
	CustomQueryPerMinute int `koanf:"custom_query_per_minute" validate:"min=1"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks the configuration for invalid values. It is called by Load
// after all layers are merged.
func (c *Config) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config value for %s (rule %s)", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}
