// Package repository provides persistence for contributions, fingerprints,
// the point ledger, reviews, badges, rank snapshots, and audit records. Two
// implementations exist: an in-memory store for tests and fast starts, and a
// SQLite store for durable deployments.
package repository

import (
	"context"
	"time"

	"github.com/forgescore/forgescore/internal/domain/model"
)

// Store is the full persistence surface. Domain packages depend on narrow
// subsets of it; both MemStore and SQLiteStore satisfy all of them.
type Store interface {
	// Fingerprints.

	// ReserveFingerprint creates fp if its token is unknown. Returns the
	// stored record and whether this call created it.
	ReserveFingerprint(ctx context.Context, fp model.Fingerprint) (model.Fingerprint, bool, error)
	MarkFingerprintProcessed(ctx context.Context, token string, lastError string) error
	RecordFingerprintFailure(ctx context.Context, token string, lastError string) error
	// ClaimFingerprintScoring flips scoring-applied exactly once; only the
	// winning caller sees true.
	ClaimFingerprintScoring(ctx context.Context, token string) (bool, error)

	// Contributions.

	GetContributionBySubject(ctx context.Context, subjectID int64) (model.Contribution, error)
	PutContribution(ctx context.Context, rec model.Contribution) error
	ListContributionsByAuthor(ctx context.Context, authorID string) ([]model.Contribution, error)
	ListContributionsByAuthorRepo(ctx context.Context, authorID, repoID string, since time.Time) ([]model.Contribution, error)
	// CountMergedInRepos counts active merged contributions across repoIDs;
	// contributor narrows to one author when non-empty.
	CountMergedInRepos(ctx context.Context, repoIDs []string, contributor string) (int, error)

	// Ledger. AppendTransaction is the single atomic write path: entry
	// append plus balance fold, optionally fused with the fingerprint
	// scoring claim when scoringToken is non-empty.

	AppendTransaction(ctx context.Context, tx model.PointTransaction, scoringToken string) (model.PointTransaction, bool, error)
	GetTransaction(ctx context.Context, id string) (model.PointTransaction, error)
	ListTransactionsByContributor(ctx context.Context, contributorID string) ([]model.PointTransaction, error)
	SumPointsByContributorRepo(ctx context.Context, contributorID, repoID string, since time.Time) (int, error)
	ListTransactionsInRange(ctx context.Context, from, to time.Time, repoIDs []string) ([]model.PointTransaction, error)

	// Contributors.

	GetContributor(ctx context.Context, id string) (model.Contributor, error)
	ListContributors(ctx context.Context) ([]model.Contributor, error)
	// EnsureContributor creates the record on first sight, stamping the
	// first-contribution time used as the rank tie-break.
	EnsureContributor(ctx context.Context, id string, firstAt time.Time) (model.Contributor, error)

	// Reviews.

	PutReview(ctx context.Context, review model.Review) error
	ListReviewsByContribution(ctx context.Context, contributionID string) ([]model.Review, error)
	ListReviewsByReviewer(ctx context.Context, reviewerID string, since time.Time) ([]model.Review, error)
	ListReviewsByAuthor(ctx context.Context, authorID string) ([]model.Review, error)
	// ClaimReview takes the review slot for one contribution; false when
	// another reviewer holds an unexpired claim.
	ClaimReview(ctx context.Context, claim model.ReviewClaim) (bool, error)
	ReleaseStaleReviewClaims(ctx context.Context, olderThan time.Time) (int, error)

	// Badges.

	ListBadgeDefinitions(ctx context.Context) ([]model.BadgeDefinition, error)
	PutBadgeDefinition(ctx context.Context, def model.BadgeDefinition) error
	ListBadgeAwards(ctx context.Context, contributorID string) ([]model.BadgeAward, error)
	// CreateBadgeAward inserts the award and its audit entry atomically
	// unless the (contributor, badge) pair exists; created is false on the
	// duplicate and nothing is written.
	CreateBadgeAward(ctx context.Context, award model.BadgeAward, audit model.AuditEntry) (bool, error)
	// RevokeBadgeAward removes the pair and writes the audit entry in the
	// same atomic step.
	RevokeBadgeAward(ctx context.Context, contributorID, badgeID string, audit model.AuditEntry) error

	// Rank snapshots.

	SaveRankSnapshot(ctx context.Context, snap model.RankSnapshot) error
	LatestRankSnapshots(ctx context.Context, kind model.LeaderboardKind, period, projectID string, n int) ([]model.RankSnapshot, error)

	// Repositories and projects.

	GetRepositoryBySubject(ctx context.Context, subjectID int64) (model.Repository, error)
	PutRepository(ctx context.Context, repo model.Repository) error
	ListRepositoriesByProject(ctx context.Context, projectID string) ([]model.Repository, error)
	PutProject(ctx context.Context, project model.Project) error
	GetProject(ctx context.Context, id string) (model.Project, error)

	// Audit.

	AppendAudit(ctx context.Context, entry model.AuditEntry) error
	ListAudit(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error)

	// Close releases underlying resources.
	Close() error
}
