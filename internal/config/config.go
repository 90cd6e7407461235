// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults; Load layers file and env.
// - All loading functions accept context.Context as the first parameter.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// WebhookSecret keys the HMAC-SHA256 signature check on inbound deliveries.
	WebhookSecret string `koanf:"webhook_secret"`

	// QueueSize bounds the in-memory work queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of background workers.
	WorkerCount int `koanf:"worker_count"`

	// StorePath points at the sqlite database file. Empty selects the
	// in-memory store.
	StorePath string `koanf:"store_path"`

	// BadgeCatalogPath points at an optional YAML badge catalog. Empty keeps
	// the built-in definitions.
	BadgeCatalogPath string `koanf:"badge_catalog_path"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// SnapshotIntervalMin controls periodic rank snapshot generation.
	// Zero disables the scheduler (snapshots still run via the CLI).
	SnapshotIntervalMin int `koanf:"snapshot_interval_min"`

	// StaleReviewTTLHours bounds how long a review claim may sit unserviced
	// before the sweep releases it.
	StaleReviewTTLHours int `koanf:"stale_review_ttl_hours"`

	// StateTokenTTLSec bounds the lifetime of single-use OAuth state tokens.
	StateTokenTTLSec int `koanf:"state_token_ttl_sec"`

	// Contributor-side gaming thresholds.
	SpamDiffThreshold   int `koanf:"spam_diff_threshold"`
	SpamPenalty         int `koanf:"spam_penalty"`
	LowValueDiffCeiling int `koanf:"low_value_diff_ceiling"`
	LowValuePenalty     int `koanf:"low_value_penalty"`
	FrequencyLimit      int `koanf:"frequency_limit"`
	FrequencyPenalty    int `koanf:"frequency_penalty"`
	FarmingCapPoints    int `koanf:"farming_cap_points"`
	FarmingWindowDays   int `koanf:"farming_window_days"`

	// Reviewer-side abuse thresholds.
	ReviewerMaxPerDay      int     `koanf:"reviewer_max_per_day"`
	ReviewerRejectionRate  float64 `koanf:"reviewer_rejection_rate"`
	ReviewerExtremeRate    float64 `koanf:"reviewer_extreme_rate"`
	ReviewerMinSample      int     `koanf:"reviewer_min_sample"`
	ReviewerTargetedRepeat int     `koanf:"reviewer_targeted_repeat"`
}

// New creates a Config populated with defaults.
func New() *Config {
	c := &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		WebhookSecret:       "",
		QueueSize:           100_000,
		WorkerCount:         runtime.NumCPU() * 4,
		StorePath:           "",
		BadgeCatalogPath:    "",
		MaxLeaderboardLimit: 100,
		SnapshotIntervalMin: 0,
		StaleReviewTTLHours: 48,
		StateTokenTTLSec:    600,

		SpamDiffThreshold:   10,
		SpamPenalty:         20,
		LowValueDiffCeiling: 20,
		LowValuePenalty:     15,
		FrequencyLimit:      10,
		FrequencyPenalty:    30,
		FarmingCapPoints:    500,
		FarmingWindowDays:   30,

		ReviewerMaxPerDay:      50,
		ReviewerRejectionRate:  0.8,
		ReviewerExtremeRate:    0.9,
		ReviewerMinSample:      10,
		ReviewerTargetedRepeat: 3,
	}
	return c
}
