// Package loadgen drives a running server with synthetic webhook
// deliveries and sanity-checks the resulting leaderboard.
package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Secret        string        // Webhook HMAC secret, empty to skip signing
	NumPulls      int           // Number of synthetic pull requests
	Workers       int           // Number of concurrent submitters
	Timeout       time.Duration // HTTP request timeout
	DuplicateRate float64       // Fraction of deliveries re-sent verbatim
	TopN          int           // Leaderboard size to fetch at the end
	Verbose       bool          // Enable verbose logging
}

// Delivery is a prepared webhook call: the raw body plus its headers.
type Delivery struct {
	ID        string
	EventType string
	Body      []byte
}

// Entry mirrors the leaderboard response shape.
type Entry struct {
	ContributorID string `json:"ContributorID"`
	Rank          int    `json:"Rank"`
	Points        int    `json:"Points"`
}

// Ack mirrors the webhook acknowledgment shape.
type Ack struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// Stats holds run statistics.
type Stats struct {
	DeliveriesGenerated int
	DeliveriesSubmitted int
	DeliveriesAccepted  int
	DeliveriesDuplicate int
	DeliveriesFailed    int
	LeaderboardEntries  int
	StartTime           time.Time
	EndTime             time.Time
	Duration            time.Duration
}
