package rank

import "errors"

var (
	// ErrInvalidPeriod reports a monthly period not in "2006-01" form.
	ErrInvalidPeriod = errors.New("invalid leaderboard period")

	// ErrUnknownKind reports an unrecognised leaderboard kind.
	ErrUnknownKind = errors.New("unknown leaderboard kind")

	// ErrMissingProject rejects a project snapshot without a project id.
	ErrMissingProject = errors.New("project id required")

	// ErrNoHistory reports fewer than two snapshots to compare.
	ErrNoHistory = errors.New("not enough snapshot history")
)
