// Package statetoken issues short-lived single-use tokens for multi-step
// flows such as manual award confirmation. A token is consumed exactly once
// and silently expires after its TTL.
package statetoken

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Issuer issues and consumes single-use tokens.
type Issuer interface {
	// Issue creates a token bound to an opaque payload.
	Issue(ctx context.Context, payload string) string

	// Consume atomically retrieves and invalidates a token. Returns the
	// bound payload and true exactly once per live token; false for
	// unknown, expired, or already-consumed tokens.
	Consume(ctx context.Context, token string) (string, bool)

	Size() int

	// Close stops the expiry janitor.
	Close()
}

type entry struct {
	payload   string
	expiresAt time.Time
}

type memoryIssuer struct {
	mu      sync.Mutex
	entries map[string]entry

	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryIssuer creates an in-memory issuer with configuration options
// and starts its expiry janitor.
func NewMemoryIssuer(opts ...Option) Issuer {
	m := &memoryIssuer{
		entries:  make(map[string]entry),
		ttl:      5 * time.Minute,
		interval: time.Minute,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.janitor()
	return m
}

func (m *memoryIssuer) Issue(_ context.Context, payload string) string {
	token := uuid.NewString()
	m.mu.Lock()
	m.entries[token] = entry{payload: payload, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return token
}

func (m *memoryIssuer) Consume(_ context.Context, token string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	if !ok {
		return "", false
	}
	delete(m.entries, token)
	if m.now().After(e.expiresAt) {
		return "", false
	}
	return e.payload, true
}

func (m *memoryIssuer) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memoryIssuer) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// janitor drops expired tokens so abandoned flows do not accumulate.
func (m *memoryIssuer) janitor() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := m.now()
			m.mu.Lock()
			for token, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, token)
				}
			}
			m.mu.Unlock()
		}
	}
}
