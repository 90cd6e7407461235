// Package badge evaluates achievement criteria and manages awards. Awards
// are at-most-once per (contributor, badge) pair and every grant or
// revocation leaves an audit entry.
package badge

import (
	"context"
	"fmt"
	"time"

	"github.com/forgescore/forgescore/internal/domain/model"
)

// History is the read-side surface criteria evaluation needs.
type History interface {
	ListContributionsByAuthor(ctx context.Context, authorID string) ([]model.Contribution, error)
	ListReviewsByAuthor(ctx context.Context, authorID string) ([]model.Review, error)

	// CountMergedInRepos counts merged contributions across the given
	// repositories; contributor filters to one author when non-empty.
	CountMergedInRepos(ctx context.Context, repoIDs []string, contributor string) (int, error)

	ListRepositoriesByProject(ctx context.Context, projectID string) ([]model.Repository, error)
}

// Evaluator decides whether a contributor meets a badge's criteria.
type Evaluator struct {
	history History
	now     func() time.Time
}

// EvaluatorOption applies a configuration option to the Evaluator.
type EvaluatorOption func(*Evaluator)

// WithEvaluatorClock overrides the time source, mainly for tests.
func WithEvaluatorClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator creates an Evaluator over history.
func NewEvaluator(history History, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{history: history, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Meets evaluates one criteria against one contributor.
func (e *Evaluator) Meets(ctx context.Context, contributorID string, c model.BadgeCriteria) (bool, error) {
	switch c.Type {
	case model.CriteriaPRCount:
		return e.meetsPRCount(ctx, contributorID, c)
	case model.CriteriaQualityRating:
		return e.meetsQualityRating(ctx, contributorID, c)
	case model.CriteriaStreak:
		return e.meetsStreak(ctx, contributorID, c)
	case model.CriteriaProjectChampion:
		return e.meetsProjectChampion(ctx, contributorID, c)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownCriteria, c.Type)
	}
}

func (e *Evaluator) meetsPRCount(ctx context.Context, contributorID string, c model.BadgeCriteria) (bool, error) {
	recs, err := e.history.ListContributionsByAuthor(ctx, contributorID)
	if err != nil {
		return false, fmt.Errorf("pr_count criteria: %w", err)
	}
	merged := 0
	for _, rec := range recs {
		if rec.State == model.StateMerged && rec.Active {
			merged++
		}
	}
	return merged >= c.Threshold, nil
}

func (e *Evaluator) meetsQualityRating(ctx context.Context, contributorID string, c model.BadgeCriteria) (bool, error) {
	reviews, err := e.history.ListReviewsByAuthor(ctx, contributorID)
	if err != nil {
		return false, fmt.Errorf("quality_rating criteria: %w", err)
	}
	rated, sum := 0, 0
	for _, r := range reviews {
		if r.Rating > 0 {
			rated++
			sum += r.Rating
		}
	}
	minSample := c.MinSample
	if minSample <= 0 {
		minSample = 1
	}
	if rated < minSample {
		return false, nil
	}
	return float64(sum)/float64(rated) >= c.MinRating, nil
}

// meetsStreak walks calendar months backward from the most recent merged
// contribution; any month without a merge resets the streak to zero. An
// empty current month does not break an otherwise consecutive run.
func (e *Evaluator) meetsStreak(ctx context.Context, contributorID string, c model.BadgeCriteria) (bool, error) {
	recs, err := e.history.ListContributionsByAuthor(ctx, contributorID)
	if err != nil {
		return false, fmt.Errorf("streak criteria: %w", err)
	}
	months := map[string]bool{}
	var latest time.Time
	for _, rec := range recs {
		if rec.State == model.StateMerged && rec.Active && !rec.MergedAt.IsZero() {
			months[rec.MergedAt.UTC().Format("2006-01")] = true
			if rec.MergedAt.After(latest) {
				latest = rec.MergedAt
			}
		}
	}
	if latest.IsZero() {
		return false, nil
	}
	// First-of-month cursor so stepping back never skips a short month.
	cursor := time.Date(latest.UTC().Year(), latest.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	streak := 0
	for months[cursor.Format("2006-01")] {
		streak++
		cursor = cursor.AddDate(0, -1, 0)
	}
	return streak >= c.Months, nil
}

func (e *Evaluator) meetsProjectChampion(ctx context.Context, contributorID string, c model.BadgeCriteria) (bool, error) {
	repos, err := e.history.ListRepositoriesByProject(ctx, c.ProjectID)
	if err != nil {
		return false, fmt.Errorf("project_champion criteria: %w", err)
	}
	ids := make([]string, 0, len(repos))
	for _, r := range repos {
		ids = append(ids, r.ID)
	}
	total, err := e.history.CountMergedInRepos(ctx, ids, "")
	if err != nil {
		return false, fmt.Errorf("project_champion criteria: %w", err)
	}
	if total == 0 {
		return false, nil
	}
	mine, err := e.history.CountMergedInRepos(ctx, ids, contributorID)
	if err != nil {
		return false, fmt.Errorf("project_champion criteria: %w", err)
	}
	return float64(mine)/float64(total) >= c.MinShare, nil
}
