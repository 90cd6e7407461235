package model

import "time"

// Event is the closed set of webhook event variants the core understands.
// Dispatch happens by type switch; unknown kinds never reach this layer.
type Event interface {
	EventType() string
	Action() string
	Subject() int64
}

// PullRequestEvent covers the pull_request lifecycle actions: opened,
// synchronize, reopened, closed (merged or not).
type PullRequestEvent struct {
	EventAction   string
	SubjectID     int64 // external PR id
	Number        int
	RepoSubjectID int64
	AuthorID      string
	Title         string
	Additions     int
	Deletions     int
	Merged        bool
	CreatedAt     time.Time
	ClosedAt      time.Time
	MergedAt      time.Time
}

func (e PullRequestEvent) EventType() string { return "pull_request" }
func (e PullRequestEvent) Action() string    { return e.EventAction }
func (e PullRequestEvent) Subject() int64    { return e.SubjectID }

// DiffSize is the change magnitude used by scoring and gaming checks.
func (e PullRequestEvent) DiffSize() int { return e.Additions + e.Deletions }

// PushEvent covers pushes; only default-branch pushes are observed.
type PushEvent struct {
	Ref           string
	RepoSubjectID int64
	DefaultBranch string
	CommitCount   int
}

func (e PushEvent) EventType() string { return "push" }
func (e PushEvent) Action() string    { return "push" }
func (e PushEvent) Subject() int64    { return e.RepoSubjectID }

// OnDefaultBranch reports whether the push targeted the default branch.
func (e PushEvent) OnDefaultBranch() bool {
	return e.Ref == "refs/heads/"+e.DefaultBranch
}

// RepositoryEvent covers repository metadata changes: renamed, transferred,
// privatized, deleted.
type RepositoryEvent struct {
	EventAction   string
	RepoSubjectID int64
	Name          string
	FullName      string
}

func (e RepositoryEvent) EventType() string { return "repository" }
func (e RepositoryEvent) Action() string    { return e.EventAction }
func (e RepositoryEvent) Subject() int64    { return e.RepoSubjectID }
