package rank

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/forgescore/forgescore/internal/domain/model"
)

type fakeStore struct {
	contributors []model.Contributor
	txs          []model.PointTransaction
	repos        map[string][]model.Repository
	snapshots    []model.RankSnapshot
}

func (f *fakeStore) ListContributors(_ context.Context) ([]model.Contributor, error) {
	return f.contributors, nil
}

func (f *fakeStore) ListTransactionsInRange(_ context.Context, from, to time.Time, repoIDs []string) ([]model.PointTransaction, error) {
	wanted := map[string]bool{}
	for _, id := range repoIDs {
		wanted[id] = true
	}
	var out []model.PointTransaction
	for _, tx := range f.txs {
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

func (f *fakeStore) ListRepositoriesByProject(_ context.Context, projectID string) ([]model.Repository, error) {
	return f.repos[projectID], nil
}

func (f *fakeStore) SaveRankSnapshot(_ context.Context, snap model.RankSnapshot) error {
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeStore) LatestRankSnapshots(_ context.Context, kind model.LeaderboardKind, period, projectID string, n int) ([]model.RankSnapshot, error) {
	var matched []model.RankSnapshot
	for i := len(f.snapshots) - 1; i >= 0 && len(matched) < n; i-- {
		s := f.snapshots[i]
		if s.Kind == kind && s.Period == period && s.ProjectID == projectID {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

func TestGlobal(t *testing.T) {
	ctx := context.Background()
	earlier := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	later := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)

	Convey("Given contributors with cached balances", t, func() {
		store := &fakeStore{contributors: []model.Contributor{
			{ID: "carol", Balance: 80, FirstContributionAt: later},
			{ID: "alice", Balance: 120, FirstContributionAt: earlier},
			{ID: "bob", Balance: 80, FirstContributionAt: earlier},
		}}
		c := NewCalculator(store)

		Convey("When the global leaderboard is computed", func() {
			entries, err := c.Global(ctx)

			Convey("Then it orders by points, then first contribution, then id", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 3)
				So(entries[0].ContributorID, ShouldEqual, "alice")
				So(entries[0].Rank, ShouldEqual, 1)
				So(entries[1].ContributorID, ShouldEqual, "bob") // same points as carol, earlier start
				So(entries[2].ContributorID, ShouldEqual, "carol")
				So(entries[2].Rank, ShouldEqual, 3)
			})

			Convey("And recomputing yields the identical ordering", func() {
				So(err, ShouldBeNil)
				again, err := c.Global(ctx)
				So(err, ShouldBeNil)
				So(again, ShouldResemble, entries)
			})
		})
	})

	Convey("Given equal points and equal first contributions", t, func() {
		at := earlier
		store := &fakeStore{contributors: []model.Contributor{
			{ID: "zed", Balance: 10, FirstContributionAt: at},
			{ID: "amy", Balance: 10, FirstContributionAt: at},
		}}
		entries, err := NewCalculator(store).Global(ctx)

		Convey("Then the id breaks the tie", func() {
			So(err, ShouldBeNil)
			So(entries[0].ContributorID, ShouldEqual, "amy")
			So(entries[1].ContributorID, ShouldEqual, "zed")
		})
	})
}

func TestMonthly(t *testing.T) {
	ctx := context.Background()
	march := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	Convey("Given transactions inside and outside one month", t, func() {
		store := &fakeStore{
			contributors: []model.Contributor{{ID: "alice"}, {ID: "bob"}},
			txs: []model.PointTransaction{
				{ContributorID: "alice", Points: 50, CreatedAt: march},
				{ContributorID: "alice", Points: 10, CreatedAt: march.AddDate(0, 0, 5)},
				{ContributorID: "bob", Points: 75, CreatedAt: march.AddDate(0, -1, 0)}, // February
				{ContributorID: "bob", Points: 20, CreatedAt: march},
			},
		}
		c := NewCalculator(store)

		Convey("When the March leaderboard is computed", func() {
			entries, err := c.Monthly(ctx, "2026-03")

			Convey("Then only March points count", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
				So(entries[0].ContributorID, ShouldEqual, "alice")
				So(entries[0].Points, ShouldEqual, 60)
				So(entries[1].ContributorID, ShouldEqual, "bob")
				So(entries[1].Points, ShouldEqual, 20)
			})
		})

		Convey("When the period is malformed", func() {
			_, err := c.Monthly(ctx, "March 2026")

			So(errors.Is(err, ErrInvalidPeriod), ShouldBeTrue)
		})
	})
}

func TestProject(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	Convey("Given transactions across two projects", t, func() {
		store := &fakeStore{
			contributors: []model.Contributor{{ID: "alice"}, {ID: "bob"}},
			repos: map[string][]model.Repository{
				"proj-1": {{ID: "repo-1"}, {ID: "repo-2"}},
			},
			txs: []model.PointTransaction{
				{ContributorID: "alice", RepositoryID: "repo-1", Points: 50, CreatedAt: at},
				{ContributorID: "bob", RepositoryID: "repo-2", Points: 30, CreatedAt: at},
				{ContributorID: "bob", RepositoryID: "repo-9", Points: 500, CreatedAt: at}, // another project
			},
		}
		c := NewCalculator(store)

		Convey("When the project leaderboard is computed", func() {
			entries, err := c.Project(ctx, "proj-1")

			Convey("Then only the project's repositories count", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
				So(entries[0].ContributorID, ShouldEqual, "alice")
				So(entries[1].Points, ShouldEqual, 30)
			})
		})

		Convey("When the project has no repositories", func() {
			entries, err := c.Project(ctx, "proj-empty")

			So(err, ShouldBeNil)
			So(entries, ShouldBeEmpty)
		})
	})
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	Convey("Given a calculator over live balances", t, func() {
		store := &fakeStore{contributors: []model.Contributor{
			{ID: "alice", Balance: 100},
			{ID: "bob", Balance: 40},
		}}
		c := NewCalculator(store, WithClock(clock))

		Convey("When a global snapshot is taken", func() {
			snap, err := c.Snapshot(ctx, model.LeaderboardGlobal, "", "")

			Convey("Then it is persisted with the frozen ordering", func() {
				So(err, ShouldBeNil)
				So(snap.ID, ShouldNotBeEmpty)
				So(snap.Kind, ShouldEqual, model.LeaderboardGlobal)
				So(snap.TakenAt, ShouldEqual, now)
				So(snap.Entries, ShouldHaveLength, 2)
				So(store.snapshots, ShouldHaveLength, 1)
			})
		})

		Convey("When a monthly snapshot omits the period", func() {
			snap, err := c.Snapshot(ctx, model.LeaderboardMonthly, "", "")

			Convey("Then the current month is filled in", func() {
				So(err, ShouldBeNil)
				So(snap.Period, ShouldEqual, "2026-03")
			})
		})

		Convey("When a project snapshot omits the project", func() {
			_, err := c.Snapshot(ctx, model.LeaderboardProject, "", "")

			So(errors.Is(err, ErrMissingProject), ShouldBeTrue)
		})

		Convey("When the kind is unknown", func() {
			_, err := c.Snapshot(ctx, model.LeaderboardKind("WEEKLY"), "", "")

			So(errors.Is(err, ErrUnknownKind), ShouldBeTrue)
		})
	})
}

func TestChange(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	Convey("Given a leaderboard with fewer than two snapshots", t, func() {
		store := &fakeStore{contributors: []model.Contributor{{ID: "alice", Balance: 10}}}
		c := NewCalculator(store, WithClock(clock))

		_, err := c.Snapshot(ctx, model.LeaderboardGlobal, "", "")
		So(err, ShouldBeNil)

		Convey("When the change is requested", func() {
			_, err := c.Change(ctx, model.LeaderboardGlobal, "", "")

			So(errors.Is(err, ErrNoHistory), ShouldBeTrue)
		})
	})

	Convey("Given two snapshots where ranks moved", t, func() {
		store := &fakeStore{contributors: []model.Contributor{
			{ID: "alice", Balance: 100},
			{ID: "bob", Balance: 40},
		}}
		c := NewCalculator(store, WithClock(clock))

		_, err := c.Snapshot(ctx, model.LeaderboardGlobal, "", "")
		So(err, ShouldBeNil)

		// bob overtakes alice and a newcomer lands third.
		store.contributors = []model.Contributor{
			{ID: "alice", Balance: 100},
			{ID: "bob", Balance: 150},
			{ID: "carol", Balance: 20},
		}
		_, err = c.Snapshot(ctx, model.LeaderboardGlobal, "", "")
		So(err, ShouldBeNil)

		Convey("When the change is computed", func() {
			movements, err := c.Change(ctx, model.LeaderboardGlobal, "", "")

			Convey("Then climbs, falls, and newcomers are reported", func() {
				So(err, ShouldBeNil)
				So(movements, ShouldHaveLength, 3)

				byID := map[string]Movement{}
				for _, m := range movements {
					byID[m.ContributorID] = m
				}
				So(byID["bob"], ShouldResemble, Movement{ContributorID: "bob", From: 2, To: 1, Delta: 1})
				So(byID["alice"], ShouldResemble, Movement{ContributorID: "alice", From: 1, To: 2, Delta: -1})
				So(byID["carol"], ShouldResemble, Movement{ContributorID: "carol", From: 0, To: 3, Delta: 0})
			})
		})
	})
}
