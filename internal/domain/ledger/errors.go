package ledger

import "errors"

var (
	// ErrAlreadyScored reports a lost scoring claim: another append already
	// awarded points for the same delivery fingerprint.
	ErrAlreadyScored = errors.New("delivery already scored")

	// ErrMissingScoringToken rejects an Award without a fingerprint token.
	ErrMissingScoringToken = errors.New("scoring token required")

	// ErrMissingContributor rejects an entry without a contributor id.
	ErrMissingContributor = errors.New("contributor id required")

	// ErrMissingReason rejects an entry or reversal without a reason.
	ErrMissingReason = errors.New("reason required")

	// ErrNotReversible rejects reversing a reversal entry.
	ErrNotReversible = errors.New("transaction not reversible")

	// ErrIntegrity reports cached balances drifting from transaction sums.
	ErrIntegrity = errors.New("ledger integrity violation")
)
