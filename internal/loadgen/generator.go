package loadgen

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/forgescore/forgescore/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	diffProfileDivisor = 8
)

// Diff size profiles. Most pull requests land in the moderate band; a
// slice is deliberately tiny to trip the spam detector.
const (
	caseModerateDiff = 0
	caseLargeDiff    = 1
	caseTinyDiff     = 2
	caseHugeDiff     = 3
)

// Outcome mix: most synthetic pull requests merge, some close unmerged,
// the rest stay open.
const (
	mergedShare = 0.7
	closedShare = 0.15
)

type pullScript struct {
	subjectID  int64
	number     int
	repoID     int64
	repoName   string
	author     string
	title      string
	additions  int
	deletions  int
	merged     bool
	closed     bool
	openedAt   time.Time
	resolvedAt time.Time
}

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

func randomInt(max int64) int64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(max))
	return n.Int64()
}

// generateDeliveries prepares webhook bodies for config.NumPulls synthetic
// pull requests. Every pull request produces an opened delivery; merged and
// closed ones produce a second closing delivery.
func generateDeliveries(ctx context.Context, config *Config, stats *Stats) ([]Delivery, error) {
	logger.Get().Info(ctx, "generating synthetic pull request deliveries", logger.Int("numPulls", config.NumPulls))

	repoCount := config.NumPulls/20 + 1
	authorCount := config.NumPulls/5 + 1
	authors := make([]string, authorCount)
	for i := range authors {
		authors[i] = uuid.New().String()
	}

	deliveries := make([]Delivery, 0, config.NumPulls*2)
	base := time.Now().UTC().Add(-24 * time.Hour)

	for i := 0; i < config.NumPulls; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during generation: %w", ctx.Err())
		default:
		}

		script := scriptPull(i, base, repoCount, authors)

		opened, err := marshalPullDelivery(script, "opened", false)
		if err != nil {
			return nil, fmt.Errorf("marshal opened delivery %d: %w", i, err)
		}
		deliveries = append(deliveries, opened)

		if script.merged || script.closed {
			closing, err := marshalPullDelivery(script, "closed", script.merged)
			if err != nil {
				return nil, fmt.Errorf("marshal closed delivery %d: %w", i, err)
			}
			deliveries = append(deliveries, closing)
		}
	}

	stats.DeliveriesGenerated = len(deliveries)
	logger.Get().Info(ctx, "generated deliveries", logger.Int("count", len(deliveries)))

	return deliveries, nil
}

// scriptPull decides the shape and fate of a single synthetic pull request.
func scriptPull(index int, base time.Time, repoCount int, authors []string) pullScript {
	additions, deletions := generateDiffProfile()

	roll := getRandomFloat()
	merged := roll < mergedShare
	closed := !merged && roll < mergedShare+closedShare

	openedAt := base.Add(time.Duration(index) * time.Second)
	return pullScript{
		subjectID:  int64(1_000_000 + index),
		number:     index + 1,
		repoID:     int64(500 + randomInt(int64(repoCount))),
		author:     authors[randomInt(int64(len(authors)))],
		title:      fmt.Sprintf("Change set %d", index+1),
		additions:  additions,
		deletions:  deletions,
		merged:     merged,
		closed:     closed,
		openedAt:   openedAt,
		resolvedAt: openedAt.Add(time.Duration(30+randomInt(3600)) * time.Second),
	}
}

// generateDiffProfile creates a diff size with varied distribution.
func generateDiffProfile() (additions, deletions int) {
	switch randomInt(diffProfileDivisor) {
	case caseTinyDiff:
		// Trivial diffs, below the spam threshold.
		return int(randomInt(6)), int(randomInt(4))
	case caseLargeDiff:
		return 200 + int(randomInt(400)), 50 + int(randomInt(200))
	case caseHugeDiff:
		return 1000 + int(randomInt(4000)), 300 + int(randomInt(1000))
	case caseModerateDiff:
		fallthrough
	default:
		return 20 + int(randomInt(180)), 5 + int(randomInt(60))
	}
}

func marshalPullDelivery(script pullScript, action string, merged bool) (Delivery, error) {
	payload := map[string]any{
		"action": action,
		"pull_request": map[string]any{
			"id":         script.subjectID,
			"number":     script.number,
			"title":      script.title,
			"author":     script.author,
			"additions":  script.additions,
			"deletions":  script.deletions,
			"merged":     merged,
			"created_at": script.openedAt.Format(time.RFC3339),
			"closed_at":  closedStamp(script, action),
			"merged_at":  mergedStamp(script, action, merged),
		},
		"repository": map[string]any{
			"id":             script.repoID,
			"name":           fmt.Sprintf("repo-%d", script.repoID),
			"full_name":      fmt.Sprintf("forge/repo-%d", script.repoID),
			"default_branch": "main",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{
		ID:        uuid.New().String(),
		EventType: "pull_request",
		Body:      body,
	}, nil
}

func closedStamp(script pullScript, action string) string {
	if action != "closed" {
		return time.Time{}.Format(time.RFC3339)
	}
	return script.resolvedAt.Format(time.RFC3339)
}

func mergedStamp(script pullScript, action string, merged bool) string {
	if action != "closed" || !merged {
		return time.Time{}.Format(time.RFC3339)
	}
	return script.resolvedAt.Format(time.RFC3339)
}
