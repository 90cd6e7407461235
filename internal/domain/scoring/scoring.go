// Package scoring computes point values for scoreable contribution events
// from versioned project rules, review-quality multipliers, and detector
// penalties.
package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/forgescore/forgescore/internal/domain/model"
)

// Scoreable event names. Anything else must be rejected by the caller
// before Score runs.
const (
	EventOpened = "opened"
	EventMerged = "merged"
	EventClosed = "closed"
)

// DefaultRules returns the fallback rule set used when a project has no
// rules attached.
func DefaultRules() model.RuleSet {
	return model.RuleSet{
		Version:    1,
		BasePoints: map[string]int{EventOpened: 10, EventMerged: 50, EventClosed: 0},
		RatingMultipliers: map[int]float64{
			5: 1.5,
			4: 1.2,
			3: 1.0,
			2: 0.8,
			1: 0.5,
		},
		Penalties: map[string]int{"spam": 20, "low_value": 15, "frequency": 30},
	}
}

// Input abstracts the contribution fields needed for scoring.
type Input struct {
	ContributionID string
	Event          string // opened or merged
	Ratings        []int  // numeric review ratings, unrated reviews excluded
	Penalties      map[string]int
	Rules          *model.RuleSet // nil falls back to the engine defaults
}

// Breakdown is the full score decomposition.
type Breakdown struct {
	ContributionID string
	Event          string
	Base           int
	Multipliers    map[string]float64
	Penalties      map[string]int
	Final          int
	RulesVersion   int
}

// Scorer computes a score breakdown from an input.
type Scorer interface {
	Score(ctx context.Context, in Input) (Breakdown, error)
}

// Engine implements Scorer over rule sets.
type Engine struct {
	defaults model.RuleSet
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithDefaultRules overrides the built-in fallback rule table.
func WithDefaultRules(rules model.RuleSet) Option {
	return func(e *Engine) {
		if len(rules.BasePoints) > 0 {
			e.defaults = rules
		}
	}
}

// NewEngine creates a scoring engine with configuration options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		defaults: DefaultRules(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score computes final = max(0, floor(base * product(multipliers)) - sum(penalties)).
func (e *Engine) Score(ctx context.Context, in Input) (Breakdown, error) {
	select {
	case <-ctx.Done():
		return Breakdown{}, fmt.Errorf("scoring cancelled: %w", ctx.Err())
	default:
	}

	if in.Event != EventOpened && in.Event != EventMerged {
		return Breakdown{}, fmt.Errorf("%w: %q", ErrUnscorableEvent, in.Event)
	}

	rules := e.defaults
	if in.Rules != nil {
		rules = *in.Rules
	}

	base := e.basePoints(in.Event, rules)
	multipliers := map[string]float64{
		"review_rating": e.ratingMultiplier(in.Ratings, rules),
		// Deeper diff analysis pending; both default to neutral.
		"test_coverage": 1.0,
		"documentation": 1.0,
	}

	product := 1.0
	for _, m := range multipliers {
		product *= m
	}

	penalties := make(map[string]int, len(in.Penalties))
	penaltySum := 0
	for name, p := range in.Penalties {
		if p < 0 {
			return Breakdown{}, fmt.Errorf("%w: %s=%d", ErrNegativePenalty, name, p)
		}
		penalties[name] = p
		penaltySum += p
	}

	final := int(math.Floor(float64(base)*product)) - penaltySum
	if final < 0 {
		final = 0
	}

	return Breakdown{
		ContributionID: in.ContributionID,
		Event:          in.Event,
		Base:           base,
		Multipliers:    multipliers,
		Penalties:      penalties,
		Final:          final,
		RulesVersion:   rules.Version,
	}, nil
}

func (e *Engine) basePoints(event string, rules model.RuleSet) int {
	if pts, ok := rules.BasePoints[event]; ok {
		return pts
	}
	return e.defaults.BasePoints[event]
}

// ratingMultiplier maps the mean rating to the nearest entry of the
// rating->multiplier table. No ratings means neutral.
func (e *Engine) ratingMultiplier(ratings []int, rules model.RuleSet) float64 {
	if len(ratings) == 0 {
		return 1.0
	}
	table := rules.RatingMultipliers
	if len(table) == 0 {
		table = e.defaults.RatingMultipliers
	}

	total := 0
	for _, r := range ratings {
		total += r
	}
	mean := float64(total) / float64(len(ratings))

	bestDist := math.Inf(1)
	best := 1.0
	bestKey := math.Inf(1)
	for key, mult := range table {
		dist := math.Abs(float64(key) - mean)
		// Deterministic nearest-match: prefer the lower key on exact ties.
		if dist < bestDist || (dist == bestDist && float64(key) < bestKey) {
			bestDist = dist
			bestKey = float64(key)
			best = mult
		}
	}
	return best
}
