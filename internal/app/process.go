package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgescore/forgescore/internal/adapters/repository"
	"github.com/forgescore/forgescore/internal/domain/fingerprint"
	"github.com/forgescore/forgescore/internal/domain/gaming"
	"github.com/forgescore/forgescore/internal/domain/ledger"
	"github.com/forgescore/forgescore/internal/domain/lifecycle"
	"github.com/forgescore/forgescore/internal/domain/model"
	"github.com/forgescore/forgescore/internal/domain/scoring"
	"github.com/forgescore/forgescore/pkg/logger"
	"github.com/forgescore/forgescore/pkg/metrics"
)

// Accept reserves the delivery fingerprint and queues it for processing.
// Duplicates are acknowledged without side effects; retries of failed
// deliveries are re-queued.
func (s *Service) Accept(ctx context.Context, deliveryID string, ev model.Event) (fingerprint.Outcome, error) {
	token, outcome, err := s.registry.Reserve(ctx, deliveryID, ev.EventType(), ev.Action(), ev.Subject())
	if err != nil {
		return outcome, err
	}
	if outcome == fingerprint.OutcomeDuplicate {
		metrics.RecordWebhookDuplicate()
		s.logger.Debug(ctx, "duplicate delivery ignored",
			logger.String("delivery_id", deliveryID),
			logger.String("token", token))
		return outcome, nil
	}
	if outcome == fingerprint.OutcomeRetry {
		metrics.RecordDeliveryRetried()
	}
	if !s.queue.Enqueue(ctx, model.ProcessDelivery{
		DeliveryID: deliveryID,
		Token:      token,
		Event:      ev,
		ReceivedAt: time.Now(),
	}) {
		// The fingerprint stays unprocessed, so a redelivery can retry.
		return outcome, ErrQueueFull
	}
	return outcome, nil
}

// Process dispatches one queued work item. It implements worker.Processor.
func (s *Service) Process(ctx context.Context, w model.Work) error {
	switch item := w.(type) {
	case model.ProcessDelivery:
		return s.processDelivery(ctx, item)
	case model.EvaluateBadges:
		_, err := s.badges.EvaluateAll(ctx, item.ContributorID)
		return err
	case model.SnapshotRanks:
		_, err := s.ranks.Snapshot(ctx, item.Kind, item.Period, item.ProjectID)
		return err
	case model.SweepStaleReviews:
		released, err := s.store.ReleaseStaleReviewClaims(ctx, item.OlderThan)
		if released > 0 {
			s.logger.Info(ctx, "released stale review claims", logger.Int("count", released))
		}
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnknownWork, w.WorkKind())
	}
}

// processDelivery runs the full pipeline for one webhook delivery. Failures
// leave the fingerprint unprocessed so a redelivery can retry; successes and
// terminally ignored events mark it processed.
func (s *Service) processDelivery(ctx context.Context, pd model.ProcessDelivery) error {
	start := time.Now()
	defer func() {
		metrics.RecordProcessingLatency(time.Since(start).Seconds())
	}()

	var err error
	switch ev := pd.Event.(type) {
	case model.PullRequestEvent:
		err = s.handlePullRequest(ctx, pd, ev)
	case model.PushEvent:
		err = s.handlePush(ctx, ev)
	case model.RepositoryEvent:
		err = s.handleRepository(ctx, ev)
	default:
		metrics.RecordWebhookIgnored()
	}
	if err != nil {
		metrics.RecordDeliveryFailure()
		if recErr := s.registry.RecordFailure(ctx, pd.Token, err); recErr != nil {
			s.logger.Error(ctx, "recording delivery failure", logger.Error(recErr))
		}
		return err
	}
	if err := s.registry.MarkProcessed(ctx, pd.Token, nil); err != nil {
		return err
	}
	metrics.RecordDeliveryHandled()
	return nil
}

// handlePullRequest applies the contribution lifecycle and, for opened and
// merged events, the scoring pipeline.
func (s *Service) handlePullRequest(ctx context.Context, pd model.ProcessDelivery, ev model.PullRequestEvent) error {
	repo, err := s.ensureRepository(ctx, ev.RepoSubjectID)
	if err != nil {
		return err
	}

	rec, err := s.store.GetContributionBySubject(ctx, ev.SubjectID)
	created := false
	switch {
	case errors.Is(err, repository.ErrNotFound):
		rec = model.Contribution{
			ID:           uuid.NewString(),
			SubjectID:    ev.SubjectID,
			Number:       ev.Number,
			RepositoryID: repo.ID,
			AuthorID:     ev.AuthorID,
			Title:        ev.Title,
			State:        model.StateOpen,
			DiffSize:     ev.DiffSize(),
			Active:       true,
			OpenedAt:     ev.CreatedAt,
		}
		created = true
	case err != nil:
		return err
	}

	// Later metadata always wins for mutable fields.
	rec.Title = ev.Title
	rec.DiffSize = ev.DiffSize()

	target, scoreEvent := s.resolvePullRequestAction(ev)
	// New commits on an already-merged contribution only refresh metadata.
	if ev.EventAction == "synchronize" && lifecycle.IsTerminal(rec.State) {
		target = ""
	}
	if target != "" && target != rec.State {
		rec, err = s.walkTo(rec, target, ev)
		if err != nil {
			return err
		}
	}

	// Deactivated repositories and contributions are excluded from scoring.
	if scoreEvent != "" && (!repo.Active || !rec.Active) {
		metrics.RecordScoringSkipped()
		scoreEvent = ""
	}

	if scoreEvent == "" {
		if err := s.store.PutContribution(ctx, rec); err != nil {
			return err
		}
		if created {
			s.queue.Enqueue(ctx, model.EvaluateBadges{ContributorID: rec.AuthorID})
		}
		return nil
	}

	breakdown, report, err := s.scoreContribution(ctx, pd.Token, rec, scoreEvent, repo.ProjectID)
	if err != nil {
		return err
	}
	if breakdown != nil {
		rec.Score += breakdown.Final
	}
	if err := s.store.PutContribution(ctx, rec); err != nil {
		return err
	}
	if report != nil && report.Flagged() {
		s.logger.Warn(ctx, "gaming checks flagged contribution",
			logger.Int64("subject_id", rec.SubjectID),
			logger.Any("penalties", report.Penalties()))
	}
	s.queue.Enqueue(ctx, model.EvaluateBadges{ContributorID: rec.AuthorID})
	return nil
}

// resolvePullRequestAction maps a webhook action onto the lifecycle target
// state and the scoring event, if any.
func (s *Service) resolvePullRequestAction(ev model.PullRequestEvent) (model.State, string) {
	switch ev.EventAction {
	case "opened":
		return model.StateOpen, scoring.EventOpened
	case "reopened":
		return model.StateOpen, ""
	case "ready_for_review", "review_requested":
		return model.StateUnderReview, ""
	case "closed":
		if ev.Merged {
			return model.StateMerged, scoring.EventMerged
		}
		return model.StateClosed, ""
	case "synchronize":
		// New commits invalidate prior review progress.
		return model.StateOpen, ""
	case "edited":
		return "", ""
	default:
		return "", ""
	}
}

// walkTo moves the contribution to target through legal intermediate
// states, stamping each landing timestamp.
func (s *Service) walkTo(rec model.Contribution, target model.State, ev model.PullRequestEvent) (model.Contribution, error) {
	path, err := lifecycle.Path(rec.State, target)
	if err != nil {
		return rec, err
	}
	for _, state := range path {
		at := time.Now()
		switch state {
		case model.StateMerged:
			if !ev.MergedAt.IsZero() {
				at = ev.MergedAt
			}
		case model.StateClosed:
			if !ev.ClosedAt.IsZero() {
				at = ev.ClosedAt
			}
		case model.StateOpen:
			if !ev.CreatedAt.IsZero() {
				at = ev.CreatedAt
			}
		}
		rec, err = lifecycle.Apply(rec, state, at)
		if err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// scoreContribution runs gaming checks and the scoring engine, then awards
// the capped result through the one-winner scoring claim. A lost claim means
// a concurrent retry already awarded; that is success, not failure.
func (s *Service) scoreContribution(ctx context.Context, token string, rec model.Contribution, event, projectID string) (*scoring.Breakdown, *gaming.Report, error) {
	scoreStart := time.Now()
	defer func() {
		metrics.RecordScoringLatency(time.Since(scoreStart).Seconds())
	}()

	report, err := s.detector.Run(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	for check, flagged := range map[string]bool{
		"spam":      report.Spam.Flagged,
		"low_value": report.LowValue.Flagged,
		"frequency": report.Frequency.Flagged,
		"farming":   report.Farming.Flagged,
	} {
		if flagged {
			metrics.RecordGamingFlag(check)
		}
	}

	ratings, err := s.contributionRatings(ctx, rec.ID)
	if err != nil {
		return nil, nil, err
	}

	rules, err := s.rulesFor(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}

	breakdown, err := s.engine.Score(ctx, scoring.Input{
		ContributionID: rec.ID,
		Event:          event,
		Ratings:        ratings,
		Penalties:      report.Penalties(),
		Rules:          rules,
	})
	if err != nil {
		return nil, nil, err
	}

	points := report.Farming.CapAward(breakdown.Final)
	if points != breakdown.Final {
		s.logger.Info(ctx, "farming cap limited award",
			logger.Int64("subject_id", rec.SubjectID),
			logger.Int("earned", breakdown.Final),
			logger.Int("capped", points))
		breakdown.Final = points
	}
	if points <= 0 {
		metrics.RecordScoringSkipped()
		// Claim the scoring slot anyway so a retry cannot award later
		// against different history.
		won, err := s.registry.ClaimScoring(ctx, token)
		if err != nil {
			return nil, nil, err
		}
		if !won {
			return nil, &report, nil
		}
		return &breakdown, &report, nil
	}

	if _, err := s.store.EnsureContributor(ctx, rec.AuthorID, rec.OpenedAt); err != nil {
		return nil, nil, err
	}
	_, err = s.ledger.Award(ctx, ledger.Entry{
		ContributorID:  rec.AuthorID,
		ContributionID: rec.ID,
		RepositoryID:   rec.RepositoryID,
		Points:         points,
		Reason:         "contribution " + event,
		Kind:           model.KindAward,
		Metadata: map[string]any{
			"event":         event,
			"base":          breakdown.Base,
			"rules_version": breakdown.RulesVersion,
		},
	}, token)
	// A retry that lost the claim must not re-apply the score to the
	// contribution record; the original award already carried it.
	if errors.Is(err, ledger.ErrAlreadyScored) {
		metrics.RecordScoringSkipped()
		return nil, &report, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &breakdown, &report, nil
}

// contributionRatings collects the numeric ratings left on a contribution.
func (s *Service) contributionRatings(ctx context.Context, contributionID string) ([]int, error) {
	reviews, err := s.store.ListReviewsByContribution(ctx, contributionID)
	if err != nil {
		return nil, err
	}
	var ratings []int
	for _, r := range reviews {
		if r.Rating > 0 {
			ratings = append(ratings, r.Rating)
		}
	}
	return ratings, nil
}

// rulesFor resolves the rule set of the owning project. A repository
// outside any project falls back to the engine defaults.
func (s *Service) rulesFor(ctx context.Context, projectID string) (*model.RuleSet, error) {
	if projectID == "" {
		return nil, nil
	}
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return project.Rules, nil
}

// handlePush records activity on the default branch; feature branch pushes
// are ignored.
func (s *Service) handlePush(ctx context.Context, ev model.PushEvent) error {
	repo, err := s.ensureRepository(ctx, ev.RepoSubjectID)
	if err != nil {
		return err
	}
	if !ev.OnDefaultBranch() {
		metrics.RecordWebhookIgnored()
		return nil
	}
	s.logger.Debug(ctx, "default branch push",
		logger.String("repository_id", repo.ID),
		logger.Int("commits", ev.CommitCount))
	return nil
}

// handleRepository tracks repository creation, rename, transfer, and
// deactivation on archive, delete, or privatize.
func (s *Service) handleRepository(ctx context.Context, ev model.RepositoryEvent) error {
	repo, err := s.store.GetRepositoryBySubject(ctx, ev.RepoSubjectID)
	if errors.Is(err, repository.ErrNotFound) {
		repo = model.Repository{
			ID:            uuid.NewString(),
			SubjectID:     ev.RepoSubjectID,
			DefaultBranch: "main",
			Active:        true,
		}
	} else if err != nil {
		return err
	}

	switch ev.EventAction {
	case "created", "renamed", "edited", "transferred", "publicized":
		if ev.Name != "" {
			repo.Name = ev.Name
		}
		if ev.FullName != "" {
			repo.FullName = ev.FullName
		}
		repo.Active = true
	case "archived", "deleted", "privatized":
		repo.Active = false
	}
	return s.store.PutRepository(ctx, repo)
}

// ensureRepository resolves a repository by external id, creating a minimal
// record for repositories first seen through a webhook.
func (s *Service) ensureRepository(ctx context.Context, subjectID int64) (model.Repository, error) {
	repo, err := s.store.GetRepositoryBySubject(ctx, subjectID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.Repository{}, err
	}
	repo = model.Repository{
		ID:            uuid.NewString(),
		SubjectID:     subjectID,
		DefaultBranch: "main",
		Active:        true,
	}
	if err := s.store.PutRepository(ctx, repo); err != nil {
		return model.Repository{}, err
	}
	return repo, nil
}
