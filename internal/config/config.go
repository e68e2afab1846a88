// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Durations are configured in milliseconds and exposed as time.Duration.
// - Provide New() to build a Config with defaults.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/pitchside/internal/domain/model"
)

// Store drivers accepted by StoreDriver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json records.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the assignment store: memory, postgres or sqlite.
	StoreDriver string `koanf:"store_driver"`

	// DatabaseURL is the DSN of SQL stores.
	DatabaseURL string `koanf:"database_url"`

	// Migrate applies the embedded schema on startup.
	Migrate bool `koanf:"migrate"`

	// NotificationQueueSize bounds the in-memory notification queue.
	NotificationQueueSize int `koanf:"notification_queue_size"`

	// NotificationWorkers sets the number of notification delivery workers.
	NotificationWorkers int `koanf:"notification_workers"`

	// DedupeSize sets the size of the idempotency key cache.
	DedupeSize int `koanf:"dedupe_size"`

	LivenessTimeoutMS    int `koanf:"liveness_timeout_ms"`
	MaxClockSkewMS       int `koanf:"max_clock_skew_ms"`
	MonitorIdleTimeoutMS int `koanf:"monitor_idle_timeout_ms"`

	// ChannelBufferSize bounds each presence subscriber's pending messages.
	ChannelBufferSize int `koanf:"channel_buffer_size"`

	// CORSAllowedOrigins is shared by CORS and WebSocket origin checks.
	// Empty allows any origin.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Trackers seeds user profiles into the store on startup.
	Trackers []model.Profile `koanf:"trackers"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		StoreDriver:           DriverMemory,
		Migrate:               true,
		NotificationQueueSize: 1024,
		NotificationWorkers:   4,
		DedupeSize:            10_000,
		LivenessTimeoutMS:     30_000,
		MaxClockSkewMS:        300_000,
		MonitorIdleTimeoutMS:  600_000,
		ChannelBufferSize:     256,
	}
}

// LivenessTimeout is the silence after which a tracker counts as disconnected.
func (c *Config) LivenessTimeout() time.Duration {
	return time.Duration(c.LivenessTimeoutMS) * time.Millisecond
}

// MaxClockSkew is how far in the future a broadcast timestamp may be.
func (c *Config) MaxClockSkew() time.Duration {
	return time.Duration(c.MaxClockSkewMS) * time.Millisecond
}

// MonitorIdleTimeout is how long an unread monitor lives.
func (c *Config) MonitorIdleTimeout() time.Duration {
	return time.Duration(c.MonitorIdleTimeoutMS) * time.Millisecond
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return invalid("addr must not be empty")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return invalid("unknown log_format %q", c.LogFormat)
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.DatabaseURL == "" {
			return invalid("database_url is required for store_driver %q", c.StoreDriver)
		}
	default:
		return invalid("unknown store_driver %q", c.StoreDriver)
	}
	for name, v := range map[string]int{
		"notification_queue_size": c.NotificationQueueSize,
		"notification_workers":    c.NotificationWorkers,
		"dedupe_size":             c.DedupeSize,
		"channel_buffer_size":     c.ChannelBufferSize,
		"liveness_timeout_ms":     c.LivenessTimeoutMS,
		"max_clock_skew_ms":       c.MaxClockSkewMS,
		"monitor_idle_timeout_ms": c.MonitorIdleTimeoutMS,
	} {
		if v <= 0 {
			return invalid("%s must be positive, got %d", name, v)
		}
	}
	seen := make(map[string]struct{}, len(c.Trackers))
	for i, p := range c.Trackers {
		if strings.TrimSpace(p.ID) == "" {
			return invalid("trackers[%d] has no id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return invalid("trackers[%d] repeats id %q", i, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}
