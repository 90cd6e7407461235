// Package model contains domain models passed between layers.
package model

import "time"

// State enumerates the contribution lifecycle states.
type State string

const (
	StateOpen             State = "OPEN"
	StateUnderReview      State = "UNDER_REVIEW"
	StateChangesRequested State = "CHANGES_REQUESTED"
	StateApproved         State = "APPROVED"
	StateMerged           State = "MERGED"
	StateClosed           State = "CLOSED"
)

// Contribution is a tracked pull request. The external subject id is
// immutable and globally unique; records are soft-deactivated, never deleted.
type Contribution struct {
	ID           string
	SubjectID    int64 // external PR id
	Number       int   // sequence number within its repository
	RepositoryID string
	AuthorID     string
	Title        string
	State        State
	DiffSize     int
	Score        int
	Active       bool
	OpenedAt     time.Time
	ReviewedAt   time.Time
	ApprovedAt   time.Time
	MergedAt     time.Time
	ClosedAt     time.Time
}

// Fingerprint identifies one logical webhook event for deduplication.
type Fingerprint struct {
	Token          string
	DeliveryID     string
	EventType      string
	Action         string
	SubjectID      int64
	Processed      bool
	ProcessedAt    time.Time
	ScoringApplied bool
	FailureCount   int
	LastError      string
	CreatedAt      time.Time
}

// TransactionKind classifies ledger entries.
type TransactionKind string

const (
	KindAward    TransactionKind = "AWARD"
	KindBonus    TransactionKind = "BONUS"
	KindPenalty  TransactionKind = "PENALTY"
	KindReversal TransactionKind = "REVERSAL"
)

// PointTransaction is an immutable ledger entry. The signed sum of a
// contributor's transactions must equal the cached balance at all times.
type PointTransaction struct {
	ID             string
	ContributorID  string
	ContributionID string // optional
	RepositoryID   string // optional, denormalized for window queries
	Points         int
	Reason         string
	Kind           TransactionKind
	Metadata       map[string]any
	CreatedAt      time.Time
}

// Contributor carries the cached balance and the tie-break timestamp.
type Contributor struct {
	ID                  string
	Balance             int
	FirstContributionAt time.Time
	CreatedAt           time.Time
}

// ReviewAction enumerates review outcomes.
type ReviewAction string

const (
	ReviewApproved         ReviewAction = "APPROVED"
	ReviewChangesRequested ReviewAction = "REQUESTED_CHANGES"
	ReviewCommented        ReviewAction = "COMMENTED"
)

// Review is a maintainer review left on a contribution. Rating zero means
// unrated.
type Review struct {
	ID             string
	ContributionID string
	ReviewerID     string
	AuthorID       string
	Action         ReviewAction
	Rating         int
	CreatedAt      time.Time
}

// ReviewClaim marks a review as taken by a maintainer. Stale claims are
// released by the background sweep.
type ReviewClaim struct {
	ID             string
	ContributionID string
	ReviewerID     string
	ClaimedAt      time.Time
}

// CriteriaType tags badge criteria variants.
type CriteriaType string

const (
	CriteriaPRCount         CriteriaType = "pr_count"
	CriteriaQualityRating   CriteriaType = "quality_rating"
	CriteriaStreak          CriteriaType = "streak"
	CriteriaProjectChampion CriteriaType = "project_champion"
)

// BadgeCriteria is the machine-evaluable predicate attached to a badge.
// Only the fields relevant to Type are meaningful.
type BadgeCriteria struct {
	Type      CriteriaType `yaml:"type"`
	Threshold int          `yaml:"threshold,omitempty"`
	MinRating float64      `yaml:"min_rating,omitempty"`
	MinSample int          `yaml:"min_sample,omitempty"`
	Months    int          `yaml:"months,omitempty"`
	ProjectID string       `yaml:"project_id,omitempty"`
	MinShare  float64      `yaml:"min_share,omitempty"`
}

// BadgeDefinition describes an awardable badge.
type BadgeDefinition struct {
	ID          string        `yaml:"id,omitempty"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Rarity      string        `yaml:"rarity,omitempty"`
	Category    string        `yaml:"category,omitempty"`
	Criteria    BadgeCriteria `yaml:"criteria"`
	Active      bool          `yaml:"active"`
}

// BadgeAward records one (contributor, badge) pair; at most one exists
// concurrently.
type BadgeAward struct {
	ContributorID string
	BadgeID       string
	EarnedAt      time.Time
	Manual        bool
	AwardedBy     string
	Justification string
	Metadata      map[string]any
}

// AuditEntry is an append-only audit record for award/revocation and admin
// ledger overrides.
type AuditEntry struct {
	ID            string
	Actor         string
	Subject       string
	Action        string
	Justification string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// AuditFilter narrows audit queries; zero fields match everything.
type AuditFilter struct {
	Actor   string
	Subject string
	Action  string
}

// LeaderboardKind enumerates snapshot orderings.
type LeaderboardKind string

const (
	LeaderboardGlobal  LeaderboardKind = "GLOBAL"
	LeaderboardMonthly LeaderboardKind = "MONTHLY"
	LeaderboardProject LeaderboardKind = "PROJECT"
)

// RankEntry is one row of a snapshot.
type RankEntry struct {
	ContributorID string
	Rank          int
	Points        int
}

// RankSnapshot is an immutable point-in-time ordering. Superseded by newer
// snapshots, never edited.
type RankSnapshot struct {
	ID        string
	Kind      LeaderboardKind
	Period    string // e.g. "2025-08" for MONTHLY, empty otherwise
	ProjectID string // set for PROJECT kind
	TakenAt   time.Time
	Entries   []RankEntry
}

// Repository is tracked code-hosting repository metadata.
type Repository struct {
	ID            string
	SubjectID     int64 // external repository id
	Name          string
	FullName      string
	ProjectID     string
	DefaultBranch string
	Active        bool
}

// Project groups repositories and may carry versioned scoring rules.
type Project struct {
	ID    string
	Name  string
	Rules *RuleSet
}

// RuleSet is an immutable numbered snapshot of a project's scoring
// configuration. Changes produce a new version, never a retroactive edit.
type RuleSet struct {
	Version           int
	BasePoints        map[string]int
	RatingMultipliers map[int]float64
	Penalties         map[string]int
}
