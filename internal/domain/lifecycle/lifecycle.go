// Package lifecycle implements the contribution state machine. All functions
// are pure; persistence belongs to the caller.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/forgescore/forgescore/internal/domain/model"
)

// transitions maps each state to the set of states it may move to. Same-state
// transitions are accepted everywhere as idempotent no-ops and are not listed.
var transitions = map[model.State][]model.State{ //nolint:gochecknoglobals // immutable transition table
	model.StateOpen:             {model.StateUnderReview, model.StateClosed},
	model.StateUnderReview:      {model.StateChangesRequested, model.StateApproved, model.StateClosed},
	model.StateChangesRequested: {model.StateOpen, model.StateClosed},
	model.StateApproved:         {model.StateMerged, model.StateClosed},
	model.StateClosed:           {model.StateOpen},
	model.StateMerged:           {}, // terminal
}

// InvalidTransitionError reports an attempted illegal move. The caller must
// not mutate the record when it sees this error.
type InvalidTransitionError struct {
	From model.State
	To   model.State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// IsValid reports whether from may move to target. Same-state is always
// valid.
func IsValid(from, to model.State) bool {
	if from == to {
		return known(from)
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether state has no outbound transitions.
func IsTerminal(state model.State) bool {
	return state == model.StateMerged
}

func known(s model.State) bool {
	_, ok := transitions[s]
	return ok
}

// Apply validates the transition and stamps the lifecycle timestamp of the
// landing state on a copy of rec. Same-state returns the record unchanged.
// Re-opening clears closedAt and keeps the original openedAt.
func Apply(rec model.Contribution, to model.State, at time.Time) (model.Contribution, error) {
	if !IsValid(rec.State, to) {
		return rec, &InvalidTransitionError{From: rec.State, To: to}
	}
	if rec.State == to {
		return rec, nil
	}

	rec.State = to
	switch to {
	case model.StateOpen:
		if rec.OpenedAt.IsZero() {
			rec.OpenedAt = at
		}
		rec.ClosedAt = time.Time{}
	case model.StateUnderReview:
		rec.ReviewedAt = at
	case model.StateApproved:
		rec.ApprovedAt = at
	case model.StateMerged:
		rec.MergedAt = at
	case model.StateClosed:
		rec.ClosedAt = at
	case model.StateChangesRequested:
		// no dedicated timestamp field
	}
	return rec, nil
}

// Path returns the shortest legal transition sequence from -> to, excluding
// the starting state. Webhook-driven records skip intermediate review
// states, so convergence walks the table rather than jumping it. Returns an
// InvalidTransitionError when no sequence exists (e.g. away from MERGED).
func Path(from, to model.State) ([]model.State, error) {
	if from == to {
		return nil, nil
	}

	type hop struct {
		state model.State
		trail []model.State
	}
	seen := map[model.State]bool{from: true}
	frontier := []hop{{state: from}}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, next := range transitions[cur.state] {
			if seen[next] {
				continue
			}
			trail := append(append([]model.State{}, cur.trail...), next)
			if next == to {
				return trail, nil
			}
			seen[next] = true
			frontier = append(frontier, hop{state: next, trail: trail})
		}
	}
	return nil, &InvalidTransitionError{From: from, To: to}
}
