// Package abuse detects reviewer-side manipulation: rating floods, blanket
// rejection, extreme-rating bias, and targeted rejection of one author.
package abuse

import (
	"context"
	"fmt"
	"time"

	"github.com/forgescore/forgescore/internal/domain/model"
)

const (
	defaultMaxReviewsPerDay  = 50
	defaultRejectionRate     = 0.8
	defaultExtremeRatingRate = 0.9
	defaultTargetedRepeat    = 3
	defaultMinSample         = 10
	reviewWindow             = 24 * time.Hour
	sampleWindow             = 30 * 24 * time.Hour
)

// History is the read-side surface the detector needs.
type History interface {
	// ListReviewsByReviewer returns reviews one reviewer submitted at or
	// after since. A zero since means all of them.
	ListReviewsByReviewer(ctx context.Context, reviewerID string, since time.Time) ([]model.Review, error)
}

// Verdict is the outcome of a reviewer inspection. Judged is false when the
// sample was too small to decide either way.
type Verdict struct {
	Judged   bool
	Abusive  bool
	Reasons  []string
	Evidence map[string]any
}

// Detector inspects reviewer behaviour over recent history.
type Detector struct {
	history History

	maxPerDay      int
	rejectionRate  float64
	extremeRate    float64
	targetedRepeat int
	minSample      int
	now            func() time.Time
}

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithDailyLimit sets the review flood ceiling for one 24h window.
func WithDailyLimit(limit int) Option {
	return func(d *Detector) {
		if limit > 0 {
			d.maxPerDay = limit
		}
	}
}

// WithRates sets the rejection and extreme-rating rate thresholds.
func WithRates(rejection, extreme float64) Option {
	return func(d *Detector) {
		if rejection > 0 && rejection <= 1 {
			d.rejectionRate = rejection
		}
		if extreme > 0 && extreme <= 1 {
			d.extremeRate = extreme
		}
	}
}

// WithTargetedRepeat sets how many rejections of one author count as
// targeting.
func WithTargetedRepeat(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.targetedRepeat = n
		}
	}
}

// WithMinSample sets the sample size below which no verdict is rendered.
func WithMinSample(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.minSample = n
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
		history:        history,
		maxPerDay:      defaultMaxReviewsPerDay,
		rejectionRate:  defaultRejectionRate,
		extremeRate:    defaultExtremeRatingRate,
		targetedRepeat: defaultTargetedRepeat,
		minSample:      defaultMinSample,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Inspect renders a verdict on one reviewer over the trailing 30-day
// sample. Below the minimum sample the verdict is unjudged, never abusive.
func (d *Detector) Inspect(ctx context.Context, reviewerID string) (Verdict, error) {
	all, err := d.history.ListReviewsByReviewer(ctx, reviewerID, d.now().Add(-sampleWindow))
	if err != nil {
		return Verdict{}, fmt.Errorf("inspect reviewer: %w", err)
	}
	if len(all) < d.minSample {
		return Verdict{Evidence: map[string]any{"sample": len(all), "min_sample": d.minSample}}, nil
	}

	verdict := Verdict{Judged: true, Evidence: map[string]any{"sample": len(all)}}

	since := d.now().Add(-reviewWindow)
	recent := 0
	for _, r := range all {
		if !r.CreatedAt.Before(since) {
			recent++
		}
	}
	if recent > d.maxPerDay {
		verdict.Abusive = true
		verdict.Reasons = append(verdict.Reasons, "review_flood")
		verdict.Evidence["recent_24h"] = recent
	}

	rejections := 0
	rated, extreme := 0, 0
	byAuthor := map[string]int{}
	for _, r := range all {
		if r.Action == model.ReviewChangesRequested {
			rejections++
			byAuthor[r.AuthorID]++
		}
		if r.Rating > 0 {
			rated++
			if r.Rating == 1 || r.Rating == 5 {
				extreme++
			}
		}
	}

	if rate := float64(rejections) / float64(len(all)); rate >= d.rejectionRate {
		verdict.Abusive = true
		verdict.Reasons = append(verdict.Reasons, "blanket_rejection")
		verdict.Evidence["rejection_rate"] = rate
	}
	if rated >= d.minSample {
		if rate := float64(extreme) / float64(rated); rate >= d.extremeRate {
			verdict.Abusive = true
			verdict.Reasons = append(verdict.Reasons, "extreme_ratings")
			verdict.Evidence["extreme_rate"] = rate
		}
	}
	for author, n := range byAuthor {
		if n >= d.targetedRepeat {
			verdict.Abusive = true
			verdict.Reasons = append(verdict.Reasons, "targeted_rejection")
			verdict.Evidence["targeted_author"] = author
			verdict.Evidence["targeted_count"] = n
			break
		}
	}

	return verdict, nil
}

// Gate returns ErrReviewerBlocked when the reviewer's verdict is abusive.
// Callers use it before accepting a rating.
func (d *Detector) Gate(ctx context.Context, reviewerID string) error {
	verdict, err := d.Inspect(ctx, reviewerID)
	if err != nil {
		return err
	}
	if verdict.Judged && verdict.Abusive {
		return fmt.Errorf("%w: %v", ErrReviewerBlocked, verdict.Reasons)
	}
	return nil
}
