package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	ErrUnscorableEvent = errors.New("event does not award points")
	ErrNegativePenalty = errors.New("penalty must be non-negative")
)
