package dedupe

import "time"

// Option configures the in-memory guard.
type Option func(*inMemoryGuard)

// WithMaxSize bounds the number of remembered keys. Zero or negative means
// unbounded.
func WithMaxSize(maxSize int) Option {
	return func(g *inMemoryGuard) {
		g.maxSize = maxSize
	}
}

// WithTTL sets how long a key is remembered. Zero or negative keeps keys
// until they are evicted or released.
func WithTTL(ttl time.Duration) Option {
	return func(g *inMemoryGuard) {
		g.ttl = ttl
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *inMemoryGuard) {
		g.now = now
	}
}
