package badge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgescore/forgescore/internal/domain/model"
	"github.com/forgescore/forgescore/pkg/logger"
	"github.com/forgescore/forgescore/pkg/metrics"
)

// Store is the persistence surface the badge service needs.
type Store interface {
	ListBadgeDefinitions(ctx context.Context) ([]model.BadgeDefinition, error)
	PutBadgeDefinition(ctx context.Context, def model.BadgeDefinition) error

	ListBadgeAwards(ctx context.Context, contributorID string) ([]model.BadgeAward, error)

	// CreateBadgeAward inserts the award and its audit entry in one atomic
	// write, unless an award already exists for the same (contributor,
	// badge) pair; created is false on the duplicate and nothing lands.
	CreateBadgeAward(ctx context.Context, award model.BadgeAward, audit model.AuditEntry) (bool, error)

	// RevokeBadgeAward removes the pair and writes the audit entry in the
	// same atomic step.
	RevokeBadgeAward(ctx context.Context, contributorID, badgeID string, audit model.AuditEntry) error
}

// Service orchestrates criteria evaluation, grant, and revocation.
type Service struct {
	store     Store
	evaluator *Evaluator
	log       logger.Logger
	now       func() time.Time
}

// ServiceOption applies a configuration option to the Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source, mainly for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a badge Service.
func NewService(store Store, evaluator *Evaluator, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		evaluator: evaluator,
		log:       logger.Get().Named("badge"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EvaluateAll checks every active badge for one contributor and awards the
// ones newly met. Re-evaluation of already-held badges is a no-op.
func (s *Service) EvaluateAll(ctx context.Context, contributorID string) ([]model.BadgeAward, error) {
	defs, err := s.store.ListBadgeDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list badge definitions: %w", err)
	}
	metrics.RecordBadgeEvaluation()

	var granted []model.BadgeAward
	for _, def := range defs {
		if !def.Active {
			continue
		}
		met, err := s.evaluator.Meets(ctx, contributorID, def.Criteria)
		if err != nil {
			// An unknown criteria type in the catalog must not stall
			// evaluation of the rest.
			if errors.Is(err, ErrUnknownCriteria) {
				s.log.Warn(ctx, "skipping badge with unknown criteria",
					logger.String("badge_id", def.ID),
					logger.String("criteria", string(def.Criteria.Type)))
				continue
			}
			return granted, err
		}
		if !met {
			continue
		}
		award, created, err := s.grant(ctx, contributorID, def, false, "system", "criteria met")
		if err != nil {
			return granted, err
		}
		if created {
			granted = append(granted, award)
		}
	}
	return granted, nil
}

// GrantManual awards a badge by admin action, bypassing criteria. A
// justification is mandatory.
func (s *Service) GrantManual(ctx context.Context, contributorID, badgeID, actor, justification string) (model.BadgeAward, error) {
	if justification == "" {
		return model.BadgeAward{}, ErrMissingJustification
	}
	defs, err := s.store.ListBadgeDefinitions(ctx)
	if err != nil {
		return model.BadgeAward{}, fmt.Errorf("list badge definitions: %w", err)
	}
	for _, def := range defs {
		if def.ID == badgeID {
			award, created, err := s.grant(ctx, contributorID, def, true, actor, justification)
			if err != nil {
				return model.BadgeAward{}, err
			}
			if !created {
				return model.BadgeAward{}, fmt.Errorf("%w: %s already holds %s", ErrAlreadyAwarded, contributorID, badgeID)
			}
			return award, nil
		}
	}
	return model.BadgeAward{}, fmt.Errorf("%w: %s", ErrUnknownBadge, badgeID)
}

func (s *Service) grant(ctx context.Context, contributorID string, def model.BadgeDefinition, manual bool, actor, justification string) (model.BadgeAward, bool, error) {
	award := model.BadgeAward{
		ContributorID: contributorID,
		BadgeID:       def.ID,
		EarnedAt:      s.now(),
		Manual:        manual,
		AwardedBy:     actor,
		Justification: justification,
	}
	created, err := s.store.CreateBadgeAward(ctx, award, model.AuditEntry{
		ID:            uuid.NewString(),
		Actor:         actor,
		Subject:       contributorID,
		Action:        "badge_awarded",
		Justification: justification,
		Metadata:      map[string]any{"badge_id": def.ID, "manual": manual},
		CreatedAt:     s.now(),
	})
	if err != nil {
		return model.BadgeAward{}, false, fmt.Errorf("create badge award: %w", err)
	}
	if !created {
		return model.BadgeAward{}, false, nil
	}
	metrics.RecordBadgeAward()
	s.log.Info(ctx, "badge awarded",
		logger.String("contributor_id", contributorID),
		logger.String("badge_id", def.ID),
		logger.Bool("manual", manual))
	return award, true, nil
}

// Revoke removes an award with a mandatory justification and audits it. The
// contributor may later re-earn the badge.
func (s *Service) Revoke(ctx context.Context, contributorID, badgeID, actor, justification string) error {
	if justification == "" {
		return ErrMissingJustification
	}
	if err := s.store.RevokeBadgeAward(ctx, contributorID, badgeID, model.AuditEntry{
		ID:            uuid.NewString(),
		Actor:         actor,
		Subject:       contributorID,
		Action:        "badge_revoked",
		Justification: justification,
		Metadata:      map[string]any{"badge_id": badgeID},
		CreatedAt:     s.now(),
	}); err != nil {
		return fmt.Errorf("revoke badge award: %w", err)
	}
	metrics.RecordBadgeRevocation()
	s.log.Info(ctx, "badge revoked",
		logger.String("contributor_id", contributorID),
		logger.String("badge_id", badgeID),
		logger.String("actor", actor))
	return nil
}

// Held returns the badges a contributor currently holds.
func (s *Service) Held(ctx context.Context, contributorID string) ([]model.BadgeAward, error) {
	awards, err := s.store.ListBadgeAwards(ctx, contributorID)
	if err != nil {
		return nil, fmt.Errorf("list badge awards: %w", err)
	}
	return awards, nil
}
