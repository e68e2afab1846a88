package repository

import (
	"time"

	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/pkg/logger"
)

type options struct {
	metricsUpdateInterval time.Duration
	profiles              []model.Profile
	migrate               bool
	log                   logger.Logger
}

func defaultOptions() options {
	return options{metricsUpdateInterval: 5 * time.Second}
}

// Option configures a store.
type Option func(*options)

// WithMetricsUpdateInterval sets the interval for background record gauges.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.metricsUpdateInterval = interval
		}
	}
}

// WithProfiles seeds profiles when the store is opened.
func WithProfiles(profiles []model.Profile) Option {
	return func(o *options) {
		o.profiles = append(o.profiles, profiles...)
	}
}

// WithMigrations applies the embedded schema migrations on open. Only SQL
// stores use it.
func WithMigrations(enabled bool) Option {
	return func(o *options) {
		o.migrate = enabled
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}
