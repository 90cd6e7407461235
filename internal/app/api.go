package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgescore/forgescore/internal/domain/ledger"
	"github.com/forgescore/forgescore/internal/domain/lifecycle"
	"github.com/forgescore/forgescore/internal/domain/model"
	"github.com/forgescore/forgescore/internal/domain/rank"
	"github.com/forgescore/forgescore/pkg/logger"
	"github.com/forgescore/forgescore/pkg/metrics"
)

// ClaimReview takes the review slot on a contribution for one reviewer.
func (s *Service) ClaimReview(ctx context.Context, subjectID int64, reviewerID string) error {
	rec, err := s.store.GetContributionBySubject(ctx, subjectID)
	if err != nil {
		return err
	}
	won, err := s.store.ClaimReview(ctx, model.ReviewClaim{
		ID:             uuid.NewString(),
		ContributionID: rec.ID,
		ReviewerID:     reviewerID,
		ClaimedAt:      time.Now(),
	})
	if err != nil {
		return err
	}
	if !won {
		return ErrReviewClaimed
	}
	return nil
}

// SubmitReview records a maintainer review, gated by the reviewer abuse
// detector, and moves the contribution to the matching review state.
func (s *Service) SubmitReview(ctx context.Context, subjectID int64, reviewerID string, action model.ReviewAction, rating int) error {
	if rating < 0 || rating > 5 {
		return ErrInvalidRating
	}
	if rating > 0 {
		if err := s.reviewers.Gate(ctx, reviewerID); err != nil {
			metrics.RecordReviewerBlocked()
			return err
		}
	}

	rec, err := s.store.GetContributionBySubject(ctx, subjectID)
	if err != nil {
		return err
	}

	var target model.State
	switch action {
	case model.ReviewApproved:
		target = model.StateApproved
	case model.ReviewChangesRequested:
		target = model.StateChangesRequested
	case model.ReviewCommented:
		target = model.StateUnderReview
	default:
		return fmt.Errorf("unknown review action %q", action)
	}

	now := time.Now()
	if rec.State != target {
		path, err := lifecycle.Path(rec.State, target)
		if err != nil {
			return err
		}
		for _, state := range path {
			rec, err = lifecycle.Apply(rec, state, now)
			if err != nil {
				return err
			}
		}
	}

	if err := s.store.PutReview(ctx, model.Review{
		ID:             uuid.NewString(),
		ContributionID: rec.ID,
		ReviewerID:     reviewerID,
		AuthorID:       rec.AuthorID,
		Action:         action,
		Rating:         rating,
		CreatedAt:      now,
	}); err != nil {
		return err
	}
	return s.store.PutContribution(ctx, rec)
}

// Leaderboard computes the current ordering of one leaderboard, truncated
// to limit entries.
func (s *Service) Leaderboard(ctx context.Context, kind model.LeaderboardKind, period, projectID string, limit int) ([]model.RankEntry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	var (
		entries []model.RankEntry
		err     error
	)
	switch kind {
	case model.LeaderboardGlobal:
		entries, err = s.ranks.Global(ctx)
	case model.LeaderboardMonthly:
		if period == "" {
			period = time.Now().UTC().Format("2006-01")
		}
		entries, err = s.ranks.Monthly(ctx, period)
	case model.LeaderboardProject:
		if projectID == "" {
			return nil, rank.ErrMissingProject
		}
		entries, err = s.ranks.Project(ctx, projectID)
	default:
		return nil, fmt.Errorf("%w: %q", rank.ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// RankOf returns one contributor's position on the global leaderboard.
func (s *Service) RankOf(ctx context.Context, contributorID string) (model.RankEntry, error) {
	entries, err := s.ranks.Global(ctx)
	if err != nil {
		return model.RankEntry{}, err
	}
	for _, e := range entries {
		if e.ContributorID == contributorID {
			return e, nil
		}
	}
	return model.RankEntry{}, fmt.Errorf("%w: contributor %s", ErrUnknownSubject, contributorID)
}

// RankChange reports movement between the two latest snapshots.
func (s *Service) RankChange(ctx context.Context, kind model.LeaderboardKind, period, projectID string) ([]rank.Movement, error) {
	return s.ranks.Change(ctx, kind, period, projectID)
}

// Snapshot takes an immediate leaderboard snapshot.
func (s *Service) Snapshot(ctx context.Context, kind model.LeaderboardKind, period, projectID string) (model.RankSnapshot, error) {
	return s.ranks.Snapshot(ctx, kind, period, projectID)
}

// Badges returns the badges a contributor holds.
func (s *Service) Badges(ctx context.Context, contributorID string) ([]model.BadgeAward, error) {
	return s.badges.Held(ctx, contributorID)
}

// GrantBadge issues a manual badge award. Manual grants need a state token
// issued to the confirming admin flow.
func (s *Service) GrantBadge(ctx context.Context, stateToken, contributorID, badgeID, actor, justification string) (model.BadgeAward, error) {
	if _, ok := s.tokens.Consume(ctx, stateToken); !ok {
		return model.BadgeAward{}, ErrInvalidStateToken
	}
	return s.badges.GrantManual(ctx, contributorID, badgeID, actor, justification)
}

// RevokeBadge removes a badge with a mandatory justification.
func (s *Service) RevokeBadge(ctx context.Context, contributorID, badgeID, actor, justification string) error {
	return s.badges.Revoke(ctx, contributorID, badgeID, actor, justification)
}

// IssueStateToken creates a short-lived single-use token for a multi-step
// admin flow.
func (s *Service) IssueStateToken(ctx context.Context, payload string) string {
	return s.tokens.Issue(ctx, payload)
}

// PointHistory returns a contributor's ledger entries, newest first.
func (s *Service) PointHistory(ctx context.Context, contributorID string) ([]model.PointTransaction, error) {
	return s.ledger.History(ctx, contributorID)
}

// Balance returns a contributor's cached point balance.
func (s *Service) Balance(ctx context.Context, contributorID string) (int, error) {
	return s.ledger.Balance(ctx, contributorID)
}

// AdjustPoints appends a manual bonus or penalty entry and audits it.
func (s *Service) AdjustPoints(ctx context.Context, contributorID string, points int, kind model.TransactionKind, actor, justification string) (model.PointTransaction, error) {
	tx, err := s.ledger.Append(ctx, ledger.Entry{
		ContributorID: contributorID,
		Points:        points,
		Reason:        justification,
		Kind:          kind,
		Metadata:      map[string]any{"actor": actor},
	})
	if err != nil {
		return model.PointTransaction{}, err
	}
	if err := s.store.AppendAudit(ctx, model.AuditEntry{
		ID:            uuid.NewString(),
		Actor:         actor,
		Subject:       contributorID,
		Action:        "points_adjusted",
		Justification: justification,
		Metadata:      map[string]any{"points": points, "transaction_id": tx.ID},
		CreatedAt:     time.Now(),
	}); err != nil {
		return model.PointTransaction{}, err
	}
	return tx, nil
}

// ReverseTransaction appends a compensating ledger entry and audits it.
func (s *Service) ReverseTransaction(ctx context.Context, txID, actor, justification string) (model.PointTransaction, error) {
	rev, err := s.ledger.Reverse(ctx, txID, actor, justification)
	if err != nil {
		return model.PointTransaction{}, err
	}
	if err := s.store.AppendAudit(ctx, model.AuditEntry{
		ID:            uuid.NewString(),
		Actor:         actor,
		Subject:       rev.ContributorID,
		Action:        "transaction_reversed",
		Justification: justification,
		Metadata:      map[string]any{"reversed_tx": txID, "reversal_tx": rev.ID},
		CreatedAt:     time.Now(),
	}); err != nil {
		return model.PointTransaction{}, err
	}
	return rev, nil
}

// VerifyLedger recomputes every balance against the transaction log.
func (s *Service) VerifyLedger(ctx context.Context) ([]ledger.Drift, error) {
	return s.ledger.VerifyIntegrity(ctx)
}

// Audit returns matching audit entries.
func (s *Service) Audit(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	return s.store.ListAudit(ctx, filter)
}

// Contribution returns the tracked record for one external pull request id.
func (s *Service) Contribution(ctx context.Context, subjectID int64) (model.Contribution, error) {
	return s.store.GetContributionBySubject(ctx, subjectID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		if contributors, err := s.store.ListContributors(ctx); err == nil {
			stats["totalContributors"] = len(contributors)
		} else {
			s.logger.Error(ctx, "listing contributors for stats", logger.Error(err))
		}
	}

	return stats
}
