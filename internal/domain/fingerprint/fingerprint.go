// Package fingerprint provides event identity and idempotency tracking for
// webhook deliveries.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/forgescore/forgescore/internal/domain/model"
)

// Outcome reports the result of a reservation attempt.
type Outcome int

const (
	// OutcomeNew means the caller created the fingerprint and owns processing.
	OutcomeNew Outcome = iota
	// OutcomeRetry means the fingerprint exists but was never marked
	// processed; the caller may reprocess the delivery.
	OutcomeRetry
	// OutcomeDuplicate means the event was fully processed; the caller must
	// perform zero side effects.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeRetry:
		return "retry"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Token derives the deterministic identity of one logical webhook event.
// Collision resistance comes from SHA-256 over the joined tuple.
func Token(deliveryID, eventType, action string, subjectID int64) string {
	sum := sha256.Sum256([]byte(deliveryID + ":" + eventType + ":" + action + ":" + strconv.FormatInt(subjectID, 10)))
	return hex.EncodeToString(sum[:])
}

// Store is the narrow persistence surface the registry needs. Implementations
// must make ReserveFingerprint an atomic compare-and-set and
// ClaimFingerprintScoring a one-winner flag flip.
type Store interface {
	// ReserveFingerprint creates fp if its token is unknown. Returns the
	// stored record and whether this call created it.
	ReserveFingerprint(ctx context.Context, fp model.Fingerprint) (model.Fingerprint, bool, error)

	// MarkFingerprintProcessed sets processed and the processing timestamp.
	// Idempotent.
	MarkFingerprintProcessed(ctx context.Context, token string, lastError string) error

	// RecordFingerprintFailure increments the failure count and records the
	// error without marking the fingerprint processed.
	RecordFingerprintFailure(ctx context.Context, token string, lastError string) error

	// ClaimFingerprintScoring flips scoring-applied exactly once. Returns
	// true only for the winning caller. The flag is permanent.
	ClaimFingerprintScoring(ctx context.Context, token string) (bool, error)
}

// Registry wraps a Store with reservation semantics.
type Registry struct {
	store Store
	now   func() time.Time
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a Registry backed by store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reserve atomically records the event identity. Exactly one concurrent
// caller observes OutcomeNew; everyone else sees OutcomeRetry or
// OutcomeDuplicate depending on the processed flag.
func (r *Registry) Reserve(ctx context.Context, deliveryID, eventType, action string, subjectID int64) (string, Outcome, error) {
	token := Token(deliveryID, eventType, action, subjectID)
	fp := model.Fingerprint{
		Token:      token,
		DeliveryID: deliveryID,
		EventType:  eventType,
		Action:     action,
		SubjectID:  subjectID,
		CreatedAt:  r.now(),
	}

	stored, created, err := r.store.ReserveFingerprint(ctx, fp)
	if err != nil {
		return token, OutcomeNew, fmt.Errorf("reserve fingerprint: %w", err)
	}
	switch {
	case created:
		return token, OutcomeNew, nil
	case stored.Processed:
		return token, OutcomeDuplicate, nil
	default:
		return token, OutcomeRetry, nil
	}
}

// MarkProcessed records successful (or terminally ignored) processing.
func (r *Registry) MarkProcessed(ctx context.Context, token string, procErr error) error {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := r.store.MarkFingerprintProcessed(ctx, token, msg); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// RecordFailure leaves the delivery retryable while keeping an error trail.
func (r *Registry) RecordFailure(ctx context.Context, token string, procErr error) error {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := r.store.RecordFingerprintFailure(ctx, token, msg); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// ClaimScoring returns true for exactly one caller per token, ever. A token
// whose claim was taken must never be scored again.
func (r *Registry) ClaimScoring(ctx context.Context, token string) (bool, error) {
	won, err := r.store.ClaimFingerprintScoring(ctx, token)
	if err != nil {
		return false, fmt.Errorf("claim scoring: %w", err)
	}
	return won, nil
}
