package model

import "time"

// Work is the closed set of background work items flowing through the queue.
type Work interface {
	WorkKind() string
}

// ProcessDelivery asks a worker to run a reserved webhook delivery through
// the processor.
type ProcessDelivery struct {
	DeliveryID string
	Token      string
	Event      Event
	ReceivedAt time.Time
}

func (ProcessDelivery) WorkKind() string { return "process_delivery" }

// EvaluateBadges asks a worker to re-evaluate all badges for one
// contributor. Safe to run any number of times.
type EvaluateBadges struct {
	ContributorID string
}

func (EvaluateBadges) WorkKind() string { return "evaluate_badges" }

// SnapshotRanks asks a worker to materialize one leaderboard ordering.
type SnapshotRanks struct {
	Kind      LeaderboardKind
	Period    string
	ProjectID string
}

func (SnapshotRanks) WorkKind() string { return "snapshot_ranks" }

// SweepStaleReviews asks a worker to release review claims taken before the
// cutoff.
type SweepStaleReviews struct {
	OlderThan time.Time
}

func (SweepStaleReviews) WorkKind() string { return "sweep_stale_reviews" }
