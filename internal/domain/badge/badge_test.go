package badge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/forgescore/forgescore/internal/domain/model"
	"github.com/forgescore/forgescore/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

// fakeBackend implements both History and Store in memory.
type fakeBackend struct {
	contributions []model.Contribution
	reviews       []model.Review
	repos         map[string][]model.Repository

	defs   []model.BadgeDefinition
	awards []model.BadgeAward
	audit  []model.AuditEntry
}

func (f *fakeBackend) ListContributionsByAuthor(_ context.Context, authorID string) ([]model.Contribution, error) {
	var out []model.Contribution
	for _, c := range f.contributions {
		if c.AuthorID == authorID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeBackend) ListReviewsByAuthor(_ context.Context, authorID string) ([]model.Review, error) {
	var out []model.Review
	for _, r := range f.reviews {
		if r.AuthorID == authorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeBackend) CountMergedInRepos(_ context.Context, repoIDs []string, contributor string) (int, error) {
	wanted := map[string]bool{}
	for _, id := range repoIDs {
		wanted[id] = true
	}
	n := 0
	for _, c := range f.contributions {
		if c.State != model.StateMerged || !c.Active || !wanted[c.RepositoryID] {
			continue
		}
		if contributor != "" && c.AuthorID != contributor {
			continue
		}
		n++
	}
	return n, nil
}

func (f *fakeBackend) ListRepositoriesByProject(_ context.Context, projectID string) ([]model.Repository, error) {
	return f.repos[projectID], nil
}

func (f *fakeBackend) ListBadgeDefinitions(_ context.Context) ([]model.BadgeDefinition, error) {
	return f.defs, nil
}

func (f *fakeBackend) PutBadgeDefinition(_ context.Context, def model.BadgeDefinition) error {
	for i, d := range f.defs {
		if d.ID == def.ID {
			f.defs[i] = def
			return nil
		}
	}
	f.defs = append(f.defs, def)
	return nil
}

func (f *fakeBackend) ListBadgeAwards(_ context.Context, contributorID string) ([]model.BadgeAward, error) {
	var out []model.BadgeAward
	for _, a := range f.awards {
		if a.ContributorID == contributorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeBackend) CreateBadgeAward(_ context.Context, award model.BadgeAward, audit model.AuditEntry) (bool, error) {
	for _, a := range f.awards {
		if a.ContributorID == award.ContributorID && a.BadgeID == award.BadgeID {
			return false, nil
		}
	}
	f.awards = append(f.awards, award)
	f.audit = append(f.audit, audit)
	return true, nil
}

func (f *fakeBackend) RevokeBadgeAward(_ context.Context, contributorID, badgeID string, audit model.AuditEntry) error {
	for i, a := range f.awards {
		if a.ContributorID == contributorID && a.BadgeID == badgeID {
			f.awards = append(f.awards[:i], f.awards[i+1:]...)
			f.audit = append(f.audit, audit)
			return nil
		}
	}
	return errors.New("badge award not found")
}

func mergedContribution(author, repo string, mergedAt time.Time) model.Contribution {
	return model.Contribution{
		ID:           fmt.Sprintf("%s-%s-%d", author, repo, mergedAt.UnixNano()),
		RepositoryID: repo,
		AuthorID:     author,
		State:        model.StateMerged,
		Active:       true,
		OpenedAt:     mergedAt.AddDate(0, 0, -3),
		MergedAt:     mergedAt,
	}
}

func TestEvaluatorMeets(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()

	Convey("Given a pr_count criteria", t, func() {
		backend := &fakeBackend{contributions: []model.Contribution{
			mergedContribution("alice", "repo-1", now.AddDate(0, -1, 0)),
			mergedContribution("alice", "repo-1", now.AddDate(0, -2, 0)),
			{ID: "open-1", AuthorID: "alice", State: model.StateOpen, Active: true},
			{ID: "dead-1", AuthorID: "alice", State: model.StateMerged, Active: false, MergedAt: now},
		}}
		e := NewEvaluator(backend, WithEvaluatorClock(clock))

		Convey("When the threshold matches the merged count", func() {
			met, err := e.Meets(ctx, "alice", model.BadgeCriteria{Type: model.CriteriaPRCount, Threshold: 2})

			Convey("Then only active merged contributions count", func() {
				So(err, ShouldBeNil)
				So(met, ShouldBeTrue)
			})
		})

		Convey("When the threshold is above the merged count", func() {
			met, err := e.Meets(ctx, "alice", model.BadgeCriteria{Type: model.CriteriaPRCount, Threshold: 3})

			So(err, ShouldBeNil)
			So(met, ShouldBeFalse)
		})
	})

	Convey("Given a quality_rating criteria", t, func() {
		reviews := make([]model.Review, 0, 12)
		for i := 0; i < 12; i++ {
			rating := 5
			if i%4 == 0 {
				rating = 4
			}
			reviews = append(reviews, model.Review{
				ID:       fmt.Sprintf("rev-%d", i),
				AuthorID: "alice",
				Rating:   rating,
			})
		}
		backend := &fakeBackend{reviews: reviews}
		e := NewEvaluator(backend, WithEvaluatorClock(clock))

		Convey("When the mean clears the bar with enough samples", func() {
			met, err := e.Meets(ctx, "alice", model.BadgeCriteria{Type: model.CriteriaQualityRating, MinRating: 4.5, MinSample: 10})

			So(err, ShouldBeNil)
			So(met, ShouldBeTrue)
		})

		Convey("When the sample is too small", func() {
			met, err := e.Meets(ctx, "alice", model.BadgeCriteria{Type: model.CriteriaQualityRating, MinRating: 4.0, MinSample: 20})

			So(err, ShouldBeNil)
			So(met, ShouldBeFalse)
		})
	})

	Convey("Given a streak criteria", t, func() {
		Convey("When six consecutive months each hold a merge", func() {
			var contributions []model.Contribution
			for i := 0; i < 6; i++ {
				contributions = append(contributions, mergedContribution("alice", "repo-1", now.AddDate(0, -i, 0)))
			}
			e := NewEvaluator(&fakeBackend{contributions: contributions}, WithEvaluatorClock(clock))

			met, err := e.Meets(ctx, "alice", model.BadgeCriteria{Type: model.CriteriaStreak, Months: 6})

			So(err, ShouldBeNil)
			So(met, ShouldBeTrue)
		})

		Convey("When one month in the middle is empty", func() {
			var contributions []model.Contribution
			for i := 0; i < 6; i++ {
				if i == 3 {
					continue
				}
				contributions = append(contributions, mergedContribution("alice", "repo-1", now.AddDate(0, -i, 0)))
			}
			e := NewEvaluator(&fakeBackend{contributions: contributions}, WithEvaluatorClock(clock))

			met, err := e.Meets(ctx, "alice", model.BadgeCriteria{Type: model.CriteriaStreak, Months: 6})

			Convey("Then the gap resets the streak", func() {
				So(err, ShouldBeNil)
				So(met, ShouldBeFalse)
			})
		})

		Convey("When the current month has no merge yet", func() {
			var contributions []model.Contribution
			for i := 1; i <= 6; i++ {
				contributions = append(contributions, mergedContribution("alice", "repo-1", now.AddDate(0, -i, 0)))
			}
			e := NewEvaluator(&fakeBackend{contributions: contributions}, WithEvaluatorClock(clock))

			met, err := e.Meets(ctx, "alice", model.BadgeCriteria{Type: model.CriteriaStreak, Months: 6})

			Convey("Then the walk anchors at the most recent merged month", func() {
				So(err, ShouldBeNil)
				So(met, ShouldBeTrue)
			})
		})

		Convey("When the last merge is months in the past", func() {
			var contributions []model.Contribution
			for i := 4; i <= 6; i++ {
				contributions = append(contributions, mergedContribution("alice", "repo-1", now.AddDate(0, -i, 0)))
			}
			e := NewEvaluator(&fakeBackend{contributions: contributions}, WithEvaluatorClock(clock))

			met, err := e.Meets(ctx, "alice", model.BadgeCriteria{Type: model.CriteriaStreak, Months: 3})

			Convey("Then the three-month run still qualifies", func() {
				So(err, ShouldBeNil)
				So(met, ShouldBeTrue)
			})
		})

		Convey("When the contributor has no merges at all", func() {
			e := NewEvaluator(&fakeBackend{}, WithEvaluatorClock(clock))

			met, err := e.Meets(ctx, "alice", model.BadgeCriteria{Type: model.CriteriaStreak, Months: 1})

			So(err, ShouldBeNil)
			So(met, ShouldBeFalse)
		})
	})

	Convey("Given a project_champion criteria", t, func() {
		backend := &fakeBackend{
			repos: map[string][]model.Repository{
				"proj-1": {{ID: "repo-1", ProjectID: "proj-1"}, {ID: "repo-2", ProjectID: "proj-1"}},
			},
			contributions: []model.Contribution{
				mergedContribution("alice", "repo-1", now),
				mergedContribution("alice", "repo-2", now.AddDate(0, 0, -1)),
				mergedContribution("alice", "repo-1", now.AddDate(0, 0, -2)),
				mergedContribution("bob", "repo-1", now.AddDate(0, 0, -3)),
				mergedContribution("bob", "repo-3", now.AddDate(0, 0, -4)), // outside the project
			},
		}
		e := NewEvaluator(backend, WithEvaluatorClock(clock))

		Convey("When the contributor holds three of four project merges", func() {
			met, err := e.Meets(ctx, "alice", model.BadgeCriteria{Type: model.CriteriaProjectChampion, ProjectID: "proj-1", MinShare: 0.5})

			So(err, ShouldBeNil)
			So(met, ShouldBeTrue)
		})

		Convey("When the required share is higher than the contributor's", func() {
			met, err := e.Meets(ctx, "bob", model.BadgeCriteria{Type: model.CriteriaProjectChampion, ProjectID: "proj-1", MinShare: 0.5})

			So(err, ShouldBeNil)
			So(met, ShouldBeFalse)
		})

		Convey("When the project has no merges at all", func() {
			empty := &fakeBackend{repos: map[string][]model.Repository{"proj-2": {{ID: "repo-9"}}}}
			met, err := NewEvaluator(empty).Meets(ctx, "alice", model.BadgeCriteria{Type: model.CriteriaProjectChampion, ProjectID: "proj-2", MinShare: 0.1})

			So(err, ShouldBeNil)
			So(met, ShouldBeFalse)
		})
	})

	Convey("Given an unknown criteria type", t, func() {
		e := NewEvaluator(&fakeBackend{})

		_, err := e.Meets(ctx, "alice", model.BadgeCriteria{Type: "moon_phase"})

		So(errors.Is(err, ErrUnknownCriteria), ShouldBeTrue)
	})
}

func TestServiceEvaluateAll(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()

	Convey("Given a contributor with one merged contribution", t, func() {
		backend := &fakeBackend{
			contributions: []model.Contribution{mergedContribution("alice", "repo-1", now)},
			defs:          DefaultCatalog(),
		}
		svc := NewService(backend, NewEvaluator(backend, WithEvaluatorClock(clock)), WithServiceClock(clock))

		Convey("When all badges are evaluated", func() {
			granted, err := svc.EvaluateAll(ctx, "alice")

			Convey("Then only first-contribution is granted, with an audit entry", func() {
				So(err, ShouldBeNil)
				So(granted, ShouldHaveLength, 1)
				So(granted[0].BadgeID, ShouldEqual, "first-contribution")
				So(granted[0].Manual, ShouldBeFalse)
				So(backend.audit, ShouldHaveLength, 1)
				So(backend.audit[0].Action, ShouldEqual, "badge_awarded")
			})

			Convey("And re-evaluation grants nothing new", func() {
				So(err, ShouldBeNil)
				again, err := svc.EvaluateAll(ctx, "alice")
				So(err, ShouldBeNil)
				So(again, ShouldBeEmpty)

				held, err := svc.Held(ctx, "alice")
				So(err, ShouldBeNil)
				So(held, ShouldHaveLength, 1)
			})
		})

		Convey("When a catalog entry carries an unknown criteria type", func() {
			backend.defs = append(backend.defs, model.BadgeDefinition{
				ID:       "weird",
				Name:     "Weird",
				Criteria: model.BadgeCriteria{Type: "moon_phase"},
				Active:   true,
			})

			granted, err := svc.EvaluateAll(ctx, "alice")

			Convey("Then the entry is skipped, not fatal", func() {
				So(err, ShouldBeNil)
				So(granted, ShouldHaveLength, 1)
			})
		})

		Convey("When a definition is inactive", func() {
			backend.defs = []model.BadgeDefinition{{
				ID:       "retired",
				Name:     "Retired",
				Criteria: model.BadgeCriteria{Type: model.CriteriaPRCount, Threshold: 1},
				Active:   false,
			}}

			granted, err := svc.EvaluateAll(ctx, "alice")

			So(err, ShouldBeNil)
			So(granted, ShouldBeEmpty)
		})
	})
}

func TestServiceManualGrantAndRevoke(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()

	Convey("Given a service with the default catalog", t, func() {
		backend := &fakeBackend{defs: DefaultCatalog()}
		svc := NewService(backend, NewEvaluator(backend, WithEvaluatorClock(clock)), WithServiceClock(clock))

		Convey("When a badge is granted manually with a justification", func() {
			award, err := svc.GrantManual(ctx, "alice", "prolific", "admin-1", "community vote")

			Convey("Then the award records the actor and justification", func() {
				So(err, ShouldBeNil)
				So(award.BadgeID, ShouldEqual, "prolific")
				So(award.Manual, ShouldBeTrue)
				So(award.AwardedBy, ShouldEqual, "admin-1")
				So(award.Justification, ShouldEqual, "community vote")
			})

			Convey("And granting it again is refused", func() {
				So(err, ShouldBeNil)
				_, err := svc.GrantManual(ctx, "alice", "prolific", "admin-1", "again")
				So(errors.Is(err, ErrAlreadyAwarded), ShouldBeTrue)
			})

			Convey("And revoking it clears the award and audits", func() {
				So(err, ShouldBeNil)
				err := svc.Revoke(ctx, "alice", "prolific", "admin-2", "granted in error")
				So(err, ShouldBeNil)

				held, err := svc.Held(ctx, "alice")
				So(err, ShouldBeNil)
				So(held, ShouldBeEmpty)
				So(backend.audit[len(backend.audit)-1].Action, ShouldEqual, "badge_revoked")
			})
		})

		Convey("When the justification is missing", func() {
			_, err := svc.GrantManual(ctx, "alice", "prolific", "admin-1", "")
			So(errors.Is(err, ErrMissingJustification), ShouldBeTrue)

			err = svc.Revoke(ctx, "alice", "prolific", "admin-1", "")
			So(errors.Is(err, ErrMissingJustification), ShouldBeTrue)
		})

		Convey("When the badge id is unknown", func() {
			_, err := svc.GrantManual(ctx, "alice", "no-such-badge", "admin-1", "because")
			So(errors.Is(err, ErrUnknownBadge), ShouldBeTrue)
		})
	})
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()

	Convey("Given the built-in catalog", t, func() {
		defs := DefaultCatalog()

		Convey("Then every definition is active with a criteria type", func() {
			So(defs, ShouldNotBeEmpty)
			for _, def := range defs {
				So(def.ID, ShouldNotBeEmpty)
				So(def.Active, ShouldBeTrue)
				So(def.Criteria.Type, ShouldNotBeEmpty)
			}
		})

		Convey("And seeding stores every definition", func() {
			backend := &fakeBackend{}
			So(SeedCatalog(ctx, backend, defs), ShouldBeNil)

			stored, err := backend.ListBadgeDefinitions(ctx)
			So(err, ShouldBeNil)
			So(stored, ShouldHaveLength, len(defs))
		})
	})

	Convey("Given a catalog YAML file", t, func() {
		write := func(content string) string {
			f, err := os.CreateTemp(t.TempDir(), "badges-*.yaml")
			So(err, ShouldBeNil)
			_, err = f.WriteString(content)
			So(err, ShouldBeNil)
			So(f.Close(), ShouldBeNil)
			return f.Name()
		}

		Convey("When the file is well formed", func() {
			path := write(`badges:
  - id: night-owl
    name: Night Owl
    rarity: rare
    category: fun
    criteria:
      type: pr_count
      threshold: 5
    active: true
`)
			defs, err := LoadCatalog(path)

			Convey("Then the definitions parse", func() {
				So(err, ShouldBeNil)
				So(defs, ShouldHaveLength, 1)
				So(defs[0].ID, ShouldEqual, "night-owl")
				So(defs[0].Criteria.Type, ShouldEqual, model.CriteriaPRCount)
				So(defs[0].Criteria.Threshold, ShouldEqual, 5)
			})
		})

		Convey("When an entry is missing its id", func() {
			path := write(`badges:
  - name: Nameless
    criteria:
      type: pr_count
      threshold: 1
`)
			_, err := LoadCatalog(path)

			So(errors.Is(err, ErrInvalidCatalog), ShouldBeTrue)
		})

		Convey("When an entry has no criteria type", func() {
			path := write(`badges:
  - id: hollow
    name: Hollow
`)
			_, err := LoadCatalog(path)

			So(errors.Is(err, ErrInvalidCatalog), ShouldBeTrue)
		})

		Convey("When the YAML is malformed", func() {
			path := write("badges: [not yaml")
			_, err := LoadCatalog(path)

			So(err, ShouldNotBeNil)
		})

		Convey("When the file does not exist", func() {
			_, err := LoadCatalog("/nonexistent/badges.yaml")

			So(err, ShouldNotBeNil)
		})
	})
}
