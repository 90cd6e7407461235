package statetoken

import "time"

// Option applies a configuration option to the in-memory issuer.
type Option func(*memoryIssuer)

// WithTTL sets how long an issued token stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(m *memoryIssuer) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithCleanupInterval sets the janitor sweep interval.
func WithCleanupInterval(interval time.Duration) Option {
	return func(m *memoryIssuer) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *memoryIssuer) {
		if now != nil {
			m.now = now
		}
	}
}
