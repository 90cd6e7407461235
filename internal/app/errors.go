package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrQueueFull      = errors.New("work queue full")
	ErrUnknownWork    = errors.New("unknown work kind")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
	ErrNotStarted     = errors.New("service not started")
	ErrReviewClaimed  = errors.New("review already claimed")
	ErrInvalidLimit   = errors.New("invalid leaderboard limit")
	ErrUnknownSubject = errors.New("unknown subject")

	// ErrInvalidStateToken rejects a manual flow whose confirmation token
	// is missing, expired, or already consumed.
	ErrInvalidStateToken = errors.New("invalid state token")
)
