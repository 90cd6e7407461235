package loadgen

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/forgescore/forgescore/pkg/logger"
)

const settleDelay = 3 * time.Second

// Run executes a complete load run: health check, generation, submission,
// and a leaderboard sanity pass.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting webhook load run",
		logger.String("baseURL", config.BaseURL),
		logger.Int("pulls", config.NumPulls),
		logger.Int("workers", config.Workers),
		logger.Float64("duplicateRate", config.DuplicateRate),
		logger.Int("topN", config.TopN))

	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	deliveries, err := generateDeliveries(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("delivery generation failed: %w", err)
	}

	if err := submitDeliveries(ctx, config, deliveries, stats); err != nil {
		return fmt.Errorf("delivery submission failed: %w", err)
	}

	logger.Get().Info(ctx, "waiting for deliveries to be processed")
	time.Sleep(settleDelay)

	entries, err := fetchLeaderboard(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("leaderboard retrieval failed: %w", err)
	}

	if err := verifyLeaderboard(ctx, entries); err != nil {
		return fmt.Errorf("leaderboard verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	logger.Get().Info(ctx, "load run completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	c := newClient(config.Timeout, config.Secret)

	resp, err := c.get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("connect to service: %w", err)
	}
	if _, err := readBody(resp); err != nil {
		return fmt.Errorf("read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// verifyLeaderboard sanity-checks ordering and point values. Points can
// legitimately be zero when every synthetic pull was flagged, but never
// negative, and ranks must be dense starting from one.
func verifyLeaderboard(ctx context.Context, entries []Entry) error {
	prev := int(^uint(0) >> 1)
	for i, e := range entries {
		if e.Rank != i+1 {
			return fmt.Errorf("entry %d has rank %d, want %d", i, e.Rank, i+1)
		}
		if e.Points < 0 {
			return fmt.Errorf("contributor %s has negative points %d", e.ContributorID, e.Points)
		}
		if e.Points > prev {
			return fmt.Errorf("entry %d breaks descending order: %d > %d", i, e.Points, prev)
		}
		prev = e.Points
	}
	logger.Get().Info(ctx, "leaderboard verified", logger.Int("entries", len(entries)))
	return nil
}

// displayFinalStats prints the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, deliveriesPerSecond float64

	if stats.DeliveriesSubmitted > 0 {
		successRate = float64(stats.DeliveriesAccepted) / float64(stats.DeliveriesSubmitted) * 100
	}
	if stats.Duration > 0 {
		deliveriesPerSecond = float64(stats.DeliveriesSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("deliveriesGenerated", stats.DeliveriesGenerated),
		logger.Int("deliveriesSubmitted", stats.DeliveriesSubmitted),
		logger.Int("deliveriesAccepted", stats.DeliveriesAccepted),
		logger.Int("deliveriesDuplicate", stats.DeliveriesDuplicate),
		logger.Int("deliveriesFailed", stats.DeliveriesFailed),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate),
		logger.Float64("deliveriesPerSecond", deliveriesPerSecond))
}
