// Package gaming detects contribution farming and spam patterns. Checks are
// independent signals; the scoring engine folds them into penalties.
package gaming

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/forgescore/forgescore/internal/domain/model"
)

// Default thresholds. All of them are configuration, not hard constants.
const (
	defaultSpamDiffThreshold   = 10
	defaultSpamPenalty         = 20
	defaultLowValueDiffCeiling = 20
	defaultLowValuePenalty     = 15
	defaultFrequencyLimit      = 10
	defaultFrequencyPenalty    = 30
	defaultFarmingCap          = 500
	defaultFarmingWindow       = 30 * 24 * time.Hour
	frequencyWindow            = 24 * time.Hour
)

// lowValueKeywords are title markers for typo/formatting-only changes.
var lowValueKeywords = []string{"typo", "whitespace", "formatting", "fix typo"} //nolint:gochecknoglobals // static heuristic table

// History is the read-side surface the detector needs.
type History interface {
	// ListContributionsByAuthorRepo returns contributions by one author to
	// one repository created at or after since.
	ListContributionsByAuthorRepo(ctx context.Context, authorID, repoID string, since time.Time) ([]model.Contribution, error)

	// SumPointsByContributorRepo sums ledger points one contributor earned
	// from one repository at or after since.
	SumPointsByContributorRepo(ctx context.Context, contributorID, repoID string, since time.Time) (int, error)
}

// Check is one detection result with supporting evidence.
type Check struct {
	Flagged  bool
	Penalty  int
	Evidence map[string]any
}

// Report aggregates all contributor-side checks.
type Report struct {
	Spam      Check
	LowValue  Check
	Frequency Check
	Farming   FarmingCheck
}

// Flagged reports whether any check fired.
func (r Report) Flagged() bool {
	return r.Spam.Flagged || r.LowValue.Flagged || r.Frequency.Flagged || r.Farming.Flagged
}

// Penalties returns the named penalty sum inputs for the scoring engine.
// Farming is not a penalty; it caps the marginal award instead.
func (r Report) Penalties() map[string]int {
	p := map[string]int{}
	if r.Spam.Flagged {
		p["spam"] = r.Spam.Penalty
	}
	if r.LowValue.Flagged {
		p["low_value"] = r.LowValue.Penalty
	}
	if r.Frequency.Flagged {
		p["frequency"] = r.Frequency.Penalty
	}
	return p
}

// FarmingCheck reports the per-repository allowance left in the trailing
// window. Remaining is zero at or above the cap.
type FarmingCheck struct {
	Flagged   bool
	Earned    int
	Cap       int
	Remaining int
}

// CapAward applies the uniform farming policy: the marginal award never
// exceeds the remaining allowance.
func (f FarmingCheck) CapAward(points int) int {
	if points <= f.Remaining {
		return points
	}
	return f.Remaining
}

// Detector runs contributor-side checks over recent history.
type Detector struct {
	history History

	spamDiffThreshold   int
	spamPenalty         int
	lowValueDiffCeiling int
	lowValuePenalty     int
	frequencyLimit      int
	frequencyPenalty    int
	farmingCap          int
	farmingWindow       time.Duration
	now                 func() time.Time
}

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithSpamThreshold sets the diff-size floor and its penalty.
func WithSpamThreshold(diff, penalty int) Option {
	return func(d *Detector) {
		if diff > 0 {
			d.spamDiffThreshold = diff
		}
		if penalty >= 0 {
			d.spamPenalty = penalty
		}
	}
}

// WithLowValueThreshold sets the low-value diff ceiling and its penalty.
func WithLowValueThreshold(diff, penalty int) Option {
	return func(d *Detector) {
		if diff > 0 {
			d.lowValueDiffCeiling = diff
		}
		if penalty >= 0 {
			d.lowValuePenalty = penalty
		}
	}
}

// WithFrequencyLimit sets the trailing-24h per-repo contribution ceiling.
func WithFrequencyLimit(limit, penalty int) Option {
	return func(d *Detector) {
		if limit > 0 {
			d.frequencyLimit = limit
		}
		if penalty >= 0 {
			d.frequencyPenalty = penalty
		}
	}
}

// WithFarmingCap sets the trailing-window per-repo point cap.
func WithFarmingCap(cap int, window time.Duration) Option {
	return func(d *Detector) {
		if cap > 0 {
			d.farmingCap = cap
		}
		if window > 0 {
			d.farmingWindow = window
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDetector creates a detector with configuration options.
func NewDetector(history History, opts ...Option) *Detector {
	d := &Detector{
		history:             history,
		spamDiffThreshold:   defaultSpamDiffThreshold,
		spamPenalty:         defaultSpamPenalty,
		lowValueDiffCeiling: defaultLowValueDiffCeiling,
		lowValuePenalty:     defaultLowValuePenalty,
		frequencyLimit:      defaultFrequencyLimit,
		frequencyPenalty:    defaultFrequencyPenalty,
		farmingCap:          defaultFarmingCap,
		farmingWindow:       defaultFarmingWindow,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CheckSpam flags change magnitudes below the spam threshold, empty diffs
// included.
func (d *Detector) CheckSpam(rec model.Contribution) Check {
	flagged := rec.DiffSize < d.spamDiffThreshold
	return Check{
		Flagged: flagged,
		Penalty: d.spamPenalty,
		Evidence: map[string]any{
			"diff_size": rec.DiffSize,
			"threshold": d.spamDiffThreshold,
		},
	}
}

// CheckLowValue flags typo/formatting-only changes by title keyword plus a
// small diff.
func (d *Detector) CheckLowValue(rec model.Contribution) Check {
	title := strings.ToLower(rec.Title)
	keyword := false
	for _, kw := range lowValueKeywords {
		if strings.Contains(title, kw) {
			keyword = true
			break
		}
	}
	flagged := keyword && rec.DiffSize > 0 && rec.DiffSize < d.lowValueDiffCeiling
	return Check{
		Flagged: flagged,
		Penalty: d.lowValuePenalty,
		Evidence: map[string]any{
			"title_keyword": keyword,
			"diff_size":     rec.DiffSize,
		},
	}
}

// CheckFrequency flags more than the limit of same-author same-repo
// contributions inside the trailing 24h window.
func (d *Detector) CheckFrequency(ctx context.Context, authorID, repoID string) (Check, error) {
	since := d.now().Add(-frequencyWindow)
	recent, err := d.history.ListContributionsByAuthorRepo(ctx, authorID, repoID, since)
	if err != nil {
		return Check{}, fmt.Errorf("frequency check: %w", err)
	}
	count := len(recent)
	return Check{
		Flagged: count > d.frequencyLimit,
		Penalty: d.frequencyPenalty,
		Evidence: map[string]any{
			"count": count,
			"limit": d.frequencyLimit,
		},
	}, nil
}

// CheckFarming reports the remaining per-repo allowance inside the trailing
// window. The same policy applies at every call site: award is capped to
// Remaining, which hits zero at the cap.
func (d *Detector) CheckFarming(ctx context.Context, contributorID, repoID string) (FarmingCheck, error) {
	since := d.now().Add(-d.farmingWindow)
	earned, err := d.history.SumPointsByContributorRepo(ctx, contributorID, repoID, since)
	if err != nil {
		return FarmingCheck{}, fmt.Errorf("farming check: %w", err)
	}
	remaining := d.farmingCap - earned
	if remaining < 0 {
		remaining = 0
	}
	return FarmingCheck{
		Flagged:   earned >= d.farmingCap,
		Earned:    earned,
		Cap:       d.farmingCap,
		Remaining: remaining,
	}, nil
}

// Run executes every check for one contribution.
func (d *Detector) Run(ctx context.Context, rec model.Contribution) (Report, error) {
	frequency, err := d.CheckFrequency(ctx, rec.AuthorID, rec.RepositoryID)
	if err != nil {
		return Report{}, err
	}
	farming, err := d.CheckFarming(ctx, rec.AuthorID, rec.RepositoryID)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Spam:      d.CheckSpam(rec),
		LowValue:  d.CheckLowValue(rec),
		Frequency: frequency,
		Farming:   farming,
	}, nil
}
