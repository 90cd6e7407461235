package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forgescore/forgescore/internal/domain/model"
)

var _ Store = (*MemStore)(nil)

// MemStore is a mutex-guarded in-memory Store. It backs tests and
// single-node deployments that can afford to lose state on restart.
type MemStore struct {
	mu sync.RWMutex

	fingerprints  map[string]model.Fingerprint // token -> record
	contributions map[int64]model.Contribution // external subject id -> record
	transactions  map[string]model.PointTransaction
	txOrder       []string // append order, oldest first
	contributors  map[string]model.Contributor
	reviews       map[string]model.Review
	reviewClaims  map[string]model.ReviewClaim // contribution id -> claim
	badgeDefs     map[string]model.BadgeDefinition
	badgeDefOrder []string
	badgeAwards   map[string]model.BadgeAward // contributor|badge -> award
	snapshots     []model.RankSnapshot
	repositories  map[string]model.Repository
	projects      map[string]model.Project
	audit         []model.AuditEntry

	closed bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		fingerprints:  make(map[string]model.Fingerprint),
		contributions: make(map[int64]model.Contribution),
		transactions:  make(map[string]model.PointTransaction),
		contributors:  make(map[string]model.Contributor),
		reviews:       make(map[string]model.Review),
		reviewClaims:  make(map[string]model.ReviewClaim),
		badgeDefs:     make(map[string]model.BadgeDefinition),
		badgeAwards:   make(map[string]model.BadgeAward),
		repositories:  make(map[string]model.Repository),
		projects:      make(map[string]model.Project),
	}
}

func (s *MemStore) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// ReserveFingerprint creates fp unless its token already exists.
func (s *MemStore) ReserveFingerprint(_ context.Context, fp model.Fingerprint) (model.Fingerprint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return model.Fingerprint{}, false, err
	}
	if existing, ok := s.fingerprints[fp.Token]; ok {
		return existing, false, nil
	}
	s.fingerprints[fp.Token] = fp
	return fp, true, nil
}

// MarkFingerprintProcessed sets the processed flag. Idempotent.
func (s *MemStore) MarkFingerprintProcessed(_ context.Context, token, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fingerprints[token]
	if !ok {
		return fmt.Errorf("%w: fingerprint %s", ErrNotFound, token)
	}
	fp.Processed = true
	fp.ProcessedAt = time.Now()
	fp.LastError = lastError
	s.fingerprints[token] = fp
	return nil
}

// RecordFingerprintFailure counts a failed attempt without marking processed.
func (s *MemStore) RecordFingerprintFailure(_ context.Context, token, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fingerprints[token]
	if !ok {
		return fmt.Errorf("%w: fingerprint %s", ErrNotFound, token)
	}
	fp.FailureCount++
	fp.LastError = lastError
	s.fingerprints[token] = fp
	return nil
}

// ClaimFingerprintScoring flips scoring-applied; one winner per token.
func (s *MemStore) ClaimFingerprintScoring(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimScoringLocked(token)
}

func (s *MemStore) claimScoringLocked(token string) (bool, error) {
	fp, ok := s.fingerprints[token]
	if !ok {
		return false, fmt.Errorf("%w: fingerprint %s", ErrNotFound, token)
	}
	if fp.ScoringApplied {
		return false, nil
	}
	fp.ScoringApplied = true
	s.fingerprints[token] = fp
	return true, nil
}

// GetContributionBySubject looks a contribution up by its external id.
func (s *MemStore) GetContributionBySubject(_ context.Context, subjectID int64) (model.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.contributions[subjectID]
	if !ok {
		return model.Contribution{}, fmt.Errorf("%w: contribution subject %d", ErrNotFound, subjectID)
	}
	return rec, nil
}

// PutContribution upserts a contribution keyed by its external subject id.
func (s *MemStore) PutContribution(_ context.Context, rec model.Contribution) error {
	if rec.SubjectID == 0 {
		return fmt.Errorf("%w: contribution without subject id", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.contributions[rec.SubjectID] = rec
	return nil
}

// ListContributionsByAuthor returns all of one author's contributions.
func (s *MemStore) ListContributionsByAuthor(_ context.Context, authorID string) ([]model.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Contribution
	for _, rec := range s.contributions {
		if rec.AuthorID == authorID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// ListContributionsByAuthorRepo narrows by repository and opened-at window.
func (s *MemStore) ListContributionsByAuthorRepo(_ context.Context, authorID, repoID string, since time.Time) ([]model.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Contribution
	for _, rec := range s.contributions {
		if rec.AuthorID == authorID && rec.RepositoryID == repoID && !rec.OpenedAt.Before(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// CountMergedInRepos counts active merged contributions across repoIDs.
func (s *MemStore) CountMergedInRepos(_ context.Context, repoIDs []string, contributor string) (int, error) {
	wanted := make(map[string]bool, len(repoIDs))
	for _, id := range repoIDs {
		wanted[id] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.contributions {
		if rec.State != model.StateMerged || !rec.Active || !wanted[rec.RepositoryID] {
			continue
		}
		if contributor != "" && rec.AuthorID != contributor {
			continue
		}
		count++
	}
	return count, nil
}

// AppendTransaction appends the entry and folds the balance under one lock,
// optionally fused with the fingerprint scoring claim.
func (s *MemStore) AppendTransaction(_ context.Context, tx model.PointTransaction, scoringToken string) (model.PointTransaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return model.PointTransaction{}, false, err
	}
	if scoringToken != "" {
		won, err := s.claimScoringLocked(scoringToken)
		if err != nil {
			return model.PointTransaction{}, false, err
		}
		if !won {
			return model.PointTransaction{}, false, nil
		}
	}
	if _, exists := s.transactions[tx.ID]; exists {
		return model.PointTransaction{}, false, fmt.Errorf("%w: transaction %s", ErrConflict, tx.ID)
	}
	s.transactions[tx.ID] = tx
	s.txOrder = append(s.txOrder, tx.ID)

	c, ok := s.contributors[tx.ContributorID]
	if !ok {
		c = model.Contributor{
			ID:                  tx.ContributorID,
			FirstContributionAt: tx.CreatedAt,
			CreatedAt:           tx.CreatedAt,
		}
	}
	c.Balance += tx.Points
	s.contributors[tx.ContributorID] = c
	return tx, true, nil
}

// GetTransaction returns one ledger entry by id.
func (s *MemStore) GetTransaction(_ context.Context, id string) (model.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return model.PointTransaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	return tx, nil
}

// ListTransactionsByContributor returns entries newest first.
func (s *MemStore) ListTransactionsByContributor(_ context.Context, contributorID string) ([]model.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PointTransaction
	for i := len(s.txOrder) - 1; i >= 0; i-- {
		tx := s.transactions[s.txOrder[i]]
		if tx.ContributorID == contributorID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// SumPointsByContributorRepo sums points earned from one repository since
// the given time.
func (s *MemStore) SumPointsByContributorRepo(_ context.Context, contributorID, repoID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := 0
	for _, tx := range s.transactions {
		if tx.ContributorID == contributorID && tx.RepositoryID == repoID && !tx.CreatedAt.Before(since) {
			sum += tx.Points
		}
	}
	return sum, nil
}

// ListTransactionsInRange filters by creation window and repositories.
func (s *MemStore) ListTransactionsInRange(_ context.Context, from, to time.Time, repoIDs []string) ([]model.PointTransaction, error) {
	wanted := make(map[string]bool, len(repoIDs))
	for _, id := range repoIDs {
		wanted[id] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PointTransaction
	for _, id := range s.txOrder {
		tx := s.transactions[id]
		if !from.IsZero() && tx.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !tx.CreatedAt.Before(to) {
			continue
		}
		if len(repoIDs) > 0 && !wanted[tx.RepositoryID] {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// GetContributor returns one contributor by id.
func (s *MemStore) GetContributor(_ context.Context, id string) (model.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contributors[id]
	if !ok {
		return model.Contributor{}, fmt.Errorf("%w: contributor %s", ErrNotFound, id)
	}
	return c, nil
}

// ListContributors returns every contributor, id order.
func (s *MemStore) ListContributors(_ context.Context) ([]model.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Contributor, 0, len(s.contributors))
	for _, c := range s.contributors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EnsureContributor creates the record on first sight.
func (s *MemStore) EnsureContributor(_ context.Context, id string, firstAt time.Time) (model.Contributor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contributors[id]; ok {
		return c, nil
	}
	c := model.Contributor{ID: id, FirstContributionAt: firstAt, CreatedAt: firstAt}
	s.contributors[id] = c
	return c, nil
}

// PutReview upserts a review by id.
func (s *MemStore) PutReview(_ context.Context, review model.Review) error {
	if review.ID == "" {
		return fmt.Errorf("%w: review without id", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[review.ID] = review
	return nil
}

// ListReviewsByContribution returns reviews on one contribution.
func (s *MemStore) ListReviewsByContribution(_ context.Context, contributionID string) ([]model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Review
	for _, r := range s.reviews {
		if r.ContributionID == contributionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListReviewsByReviewer returns one reviewer's reviews at or after since.
func (s *MemStore) ListReviewsByReviewer(_ context.Context, reviewerID string, since time.Time) ([]model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Review
	for _, r := range s.reviews {
		if r.ReviewerID == reviewerID && !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListReviewsByAuthor returns reviews received by one author.
func (s *MemStore) ListReviewsByAuthor(_ context.Context, authorID string) ([]model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Review
	for _, r := range s.reviews {
		if r.AuthorID == authorID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ClaimReview takes the review slot for one contribution.
func (s *MemStore) ClaimReview(_ context.Context, claim model.ReviewClaim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.reviewClaims[claim.ContributionID]; held {
		return false, nil
	}
	s.reviewClaims[claim.ContributionID] = claim
	return true, nil
}

// ReleaseStaleReviewClaims drops claims older than the cutoff.
func (s *MemStore) ReleaseStaleReviewClaims(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for id, claim := range s.reviewClaims {
		if claim.ClaimedAt.Before(olderThan) {
			delete(s.reviewClaims, id)
			released++
		}
	}
	return released, nil
}

// ListBadgeDefinitions returns the catalog in seed order.
func (s *MemStore) ListBadgeDefinitions(_ context.Context) ([]model.BadgeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BadgeDefinition, 0, len(s.badgeDefOrder))
	for _, id := range s.badgeDefOrder {
		out = append(out, s.badgeDefs[id])
	}
	return out, nil
}

// PutBadgeDefinition upserts a catalog entry by badge id.
func (s *MemStore) PutBadgeDefinition(_ context.Context, def model.BadgeDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("%w: badge definition without id", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.badgeDefs[def.ID]; !exists {
		s.badgeDefOrder = append(s.badgeDefOrder, def.ID)
	}
	s.badgeDefs[def.ID] = def
	return nil
}

func awardKey(contributorID, badgeID string) string {
	return contributorID + "|" + badgeID
}

// ListBadgeAwards returns one contributor's held badges.
func (s *MemStore) ListBadgeAwards(_ context.Context, contributorID string) ([]model.BadgeAward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.BadgeAward
	for key, a := range s.badgeAwards {
		if strings.HasPrefix(key, contributorID+"|") {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.Before(out[j].EarnedAt) })
	return out, nil
}

// CreateBadgeAward inserts the award and its audit entry under one lock
// unless the pair already exists.
func (s *MemStore) CreateBadgeAward(_ context.Context, award model.BadgeAward, audit model.AuditEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := awardKey(award.ContributorID, award.BadgeID)
	if _, exists := s.badgeAwards[key]; exists {
		return false, nil
	}
	s.badgeAwards[key] = award
	s.audit = append(s.audit, audit)
	return true, nil
}

// RevokeBadgeAward removes the pair and appends the audit entry under one
// lock; ErrNotFound when unheld.
func (s *MemStore) RevokeBadgeAward(_ context.Context, contributorID, badgeID string, audit model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := awardKey(contributorID, badgeID)
	if _, exists := s.badgeAwards[key]; !exists {
		return fmt.Errorf("%w: award %s/%s", ErrNotFound, contributorID, badgeID)
	}
	delete(s.badgeAwards, key)
	s.audit = append(s.audit, audit)
	return nil
}

// SaveRankSnapshot appends an immutable snapshot.
func (s *MemStore) SaveRankSnapshot(_ context.Context, snap model.RankSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]model.RankEntry, len(snap.Entries))
	copy(entries, snap.Entries)
	snap.Entries = entries
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// LatestRankSnapshots returns up to n matching snapshots, newest first.
func (s *MemStore) LatestRankSnapshots(_ context.Context, kind model.LeaderboardKind, period, projectID string, n int) ([]model.RankSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.RankSnapshot
	for i := len(s.snapshots) - 1; i >= 0 && len(out) < n; i-- {
		snap := s.snapshots[i]
		if snap.Kind != kind {
			continue
		}
		if period != "" && snap.Period != period {
			continue
		}
		if projectID != "" && snap.ProjectID != projectID {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// GetRepositoryBySubject looks a repository up by its external id.
func (s *MemStore) GetRepositoryBySubject(_ context.Context, subjectID int64) (model.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, repo := range s.repositories {
		if repo.SubjectID == subjectID {
			return repo, nil
		}
	}
	return model.Repository{}, fmt.Errorf("%w: repository subject %d", ErrNotFound, subjectID)
}

// PutRepository upserts a repository by id.
func (s *MemStore) PutRepository(_ context.Context, repo model.Repository) error {
	if repo.ID == "" {
		return fmt.Errorf("%w: repository without id", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repositories[repo.ID] = repo
	return nil
}

// ListRepositoriesByProject returns active repositories of one project.
func (s *MemStore) ListRepositoriesByProject(_ context.Context, projectID string) ([]model.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Repository
	for _, repo := range s.repositories {
		if repo.ProjectID == projectID && repo.Active {
			out = append(out, repo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutProject upserts a project by id.
func (s *MemStore) PutProject(_ context.Context, project model.Project) error {
	if project.ID == "" {
		return fmt.Errorf("%w: project without id", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[project.ID] = project
	return nil
}

// GetProject returns one project by id.
func (s *MemStore) GetProject(_ context.Context, id string) (model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return model.Project{}, fmt.Errorf("%w: project %s", ErrNotFound, id)
	}
	return p, nil
}

// AppendAudit records an immutable audit entry.
func (s *MemStore) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// ListAudit returns matching entries in append order.
func (s *MemStore) ListAudit(_ context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AuditEntry
	for _, e := range s.audit {
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Subject != "" && e.Subject != filter.Subject {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close marks the store closed; writes afterwards fail with ErrClosed.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
