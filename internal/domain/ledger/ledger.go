// Package ledger maintains the append-only point ledger. Entries are never
// edited or deleted; corrections are compensating reversal entries, and the
// cached per-contributor balance always equals the signed transaction sum.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgescore/forgescore/internal/domain/model"
	"github.com/forgescore/forgescore/pkg/metrics"
)

// Store is the persistence surface the ledger needs.
type Store interface {
	// AppendTransaction atomically appends tx and folds its points into the
	// contributor balance. A non-empty scoringToken makes the append
	// conditional on winning that fingerprint's scoring claim; applied is
	// false when another append already claimed it.
	AppendTransaction(ctx context.Context, tx model.PointTransaction, scoringToken string) (model.PointTransaction, bool, error)

	GetTransaction(ctx context.Context, id string) (model.PointTransaction, error)
	ListTransactionsByContributor(ctx context.Context, contributorID string) ([]model.PointTransaction, error)
	GetContributor(ctx context.Context, id string) (model.Contributor, error)
	ListContributors(ctx context.Context) ([]model.Contributor, error)
}

// Entry is the caller-facing input for one ledger append.
type Entry struct {
	ContributorID  string
	ContributionID string
	RepositoryID   string
	Points         int
	Reason         string
	Kind           model.TransactionKind
	Metadata       map[string]any
}

// Ledger wraps the store with the append-only invariants.
type Ledger struct {
	store Store
	now   func() time.Time
}

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Ledger backed by store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records an unconditional entry: manual bonuses, penalties, and
// admin adjustments.
func (l *Ledger) Append(ctx context.Context, e Entry) (model.PointTransaction, error) {
	tx, _, err := l.append(ctx, e, "")
	return tx, err
}

// Award records a scoring entry guarded by the fingerprint's scoring claim,
// so a replayed delivery can never double-award. ErrAlreadyScored reports a
// lost claim.
func (l *Ledger) Award(ctx context.Context, e Entry, scoringToken string) (model.PointTransaction, error) {
	if scoringToken == "" {
		return model.PointTransaction{}, ErrMissingScoringToken
	}
	tx, applied, err := l.append(ctx, e, scoringToken)
	if err != nil {
		return model.PointTransaction{}, err
	}
	if !applied {
		return model.PointTransaction{}, fmt.Errorf("%w: token %s", ErrAlreadyScored, scoringToken)
	}
	return tx, nil
}

func (l *Ledger) append(ctx context.Context, e Entry, scoringToken string) (model.PointTransaction, bool, error) {
	if e.ContributorID == "" {
		return model.PointTransaction{}, false, ErrMissingContributor
	}
	if e.Reason == "" {
		return model.PointTransaction{}, false, ErrMissingReason
	}
	tx := model.PointTransaction{
		ID:             uuid.NewString(),
		ContributorID:  e.ContributorID,
		ContributionID: e.ContributionID,
		RepositoryID:   e.RepositoryID,
		Points:         e.Points,
		Reason:         e.Reason,
		Kind:           e.Kind,
		Metadata:       e.Metadata,
		CreatedAt:      l.now(),
	}
	tx, applied, err := l.store.AppendTransaction(ctx, tx, scoringToken)
	if err != nil {
		return model.PointTransaction{}, false, fmt.Errorf("append transaction: %w", err)
	}
	if applied {
		metrics.RecordLedgerTransaction()
		if tx.Points > 0 {
			metrics.RecordPointsAwarded(tx.Points)
		}
	}
	return tx, applied, nil
}

// Reverse appends a compensating entry negating a prior transaction. The
// original entry is untouched; reversing a reversal is refused.
func (l *Ledger) Reverse(ctx context.Context, txID, actor, justification string) (model.PointTransaction, error) {
	if justification == "" {
		return model.PointTransaction{}, ErrMissingReason
	}
	orig, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return model.PointTransaction{}, fmt.Errorf("load transaction %s: %w", txID, err)
	}
	if orig.Kind == model.KindReversal {
		return model.PointTransaction{}, fmt.Errorf("%w: %s is a reversal", ErrNotReversible, txID)
	}
	rev, err := l.Append(ctx, Entry{
		ContributorID:  orig.ContributorID,
		ContributionID: orig.ContributionID,
		RepositoryID:   orig.RepositoryID,
		Points:         -orig.Points,
		Reason:         justification,
		Kind:           model.KindReversal,
		Metadata: map[string]any{
			"reversed_tx": orig.ID,
			"actor":       actor,
		},
	})
	if err != nil {
		return model.PointTransaction{}, err
	}
	metrics.RecordLedgerReversal()
	return rev, nil
}

// Balance returns the cached balance for one contributor.
func (l *Ledger) Balance(ctx context.Context, contributorID string) (int, error) {
	c, err := l.store.GetContributor(ctx, contributorID)
	if err != nil {
		return 0, fmt.Errorf("load contributor %s: %w", contributorID, err)
	}
	return c.Balance, nil
}

// History returns a contributor's transactions, newest first.
func (l *Ledger) History(ctx context.Context, contributorID string) ([]model.PointTransaction, error) {
	txs, err := l.store.ListTransactionsByContributor(ctx, contributorID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// Drift is one contributor whose cached balance disagrees with the signed
// transaction sum.
type Drift struct {
	ContributorID string
	Balance       int
	Sum           int
}

// VerifyIntegrity recomputes every contributor's signed sum and compares it
// to the cached balance. A non-empty result comes with ErrIntegrity.
func (l *Ledger) VerifyIntegrity(ctx context.Context) ([]Drift, error) {
	contributors, err := l.store.ListContributors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	var drifts []Drift
	for _, c := range contributors {
		txs, err := l.store.ListTransactionsByContributor(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("list transactions for %s: %w", c.ID, err)
		}
		sum := 0
		for _, tx := range txs {
			sum += tx.Points
		}
		if sum != c.Balance {
			drifts = append(drifts, Drift{ContributorID: c.ID, Balance: c.Balance, Sum: sum})
		}
	}
	if len(drifts) > 0 {
		metrics.RecordLedgerIntegrityFailure()
		return drifts, fmt.Errorf("%w: %d contributor(s) drifted", ErrIntegrity, len(drifts))
	}
	return nil, nil
}
