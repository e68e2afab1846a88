package presence

import (
	"time"

	"github.com/okian/pitchside/pkg/logger"
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// WithLivenessTimeout sets how long a tracker stays connected after activity.
func WithLivenessTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.liveness = d
		}
	}
}

// WithMaxClockSkew sets how far in the future a broadcast may be stamped.
func WithMaxClockSkew(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.maxSkew = d
		}
	}
}

// WithLogger sets the monitor logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		m.log = l
	}
}
