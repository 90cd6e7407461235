package gaming_test

import (
	"context"
	"testing"
	"time"

	"github.com/forgescore/forgescore/internal/domain/gaming"
	"github.com/forgescore/forgescore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeHistory serves canned contribution and point history.
type fakeHistory struct {
	contributions []model.Contribution
	earned        int
}

func (f *fakeHistory) ListContributionsByAuthorRepo(_ context.Context, _, _ string, since time.Time) ([]model.Contribution, error) {
	var out []model.Contribution
	for _, c := range f.contributions {
		if !c.OpenedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeHistory) SumPointsByContributorRepo(_ context.Context, _, _ string, _ time.Time) (int, error) {
	return f.earned, nil
}

func TestCheckSpam(t *testing.T) {
	Convey("Given a detector with default thresholds", t, func() {
		detector := gaming.NewDetector(&fakeHistory{})

		Convey("When the diff is below the threshold", func() {
			check := detector.CheckSpam(model.Contribution{DiffSize: 5})

			Convey("Then it should flag with the spam penalty", func() {
				So(check.Flagged, ShouldBeTrue)
				So(check.Penalty, ShouldEqual, 20)
			})
		})

		Convey("When the diff is at the threshold", func() {
			check := detector.CheckSpam(model.Contribution{DiffSize: 10})

			Convey("Then it should not flag", func() {
				So(check.Flagged, ShouldBeFalse)
			})
		})

		Convey("When the diff is zero", func() {
			check := detector.CheckSpam(model.Contribution{DiffSize: 0})

			Convey("Then an empty change flags like any sub-threshold diff", func() {
				So(check.Flagged, ShouldBeTrue)
				So(check.Penalty, ShouldEqual, 20)
			})
		})
	})
}

func TestCheckLowValue(t *testing.T) {
	Convey("Given a detector with default thresholds", t, func() {
		detector := gaming.NewDetector(&fakeHistory{})

		Convey("When a typo title pairs with a small diff", func() {
			check := detector.CheckLowValue(model.Contribution{Title: "Fix typo in README", DiffSize: 3})

			Convey("Then it should flag with the low-value penalty", func() {
				So(check.Flagged, ShouldBeTrue)
				So(check.Penalty, ShouldEqual, 15)
			})
		})

		Convey("When a typo title pairs with a substantial diff", func() {
			check := detector.CheckLowValue(model.Contribution{Title: "fix typo and refactor parser", DiffSize: 400})

			Convey("Then it should not flag", func() {
				So(check.Flagged, ShouldBeFalse)
			})
		})

		Convey("When a small diff has a meaningful title", func() {
			check := detector.CheckLowValue(model.Contribution{Title: "Fix race in shutdown", DiffSize: 8})

			Convey("Then it should not flag", func() {
				So(check.Flagged, ShouldBeFalse)
			})
		})
	})
}

func TestCheckFrequency(t *testing.T) {
	Convey("Given an author with recent same-repo contributions", t, func() {
		now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
		history := &fakeHistory{}
		for i := 0; i < 11; i++ {
			history.contributions = append(history.contributions, model.Contribution{
				OpenedAt: now.Add(-time.Duration(i) * time.Hour),
			})
		}
		detector := gaming.NewDetector(history, gaming.WithClock(func() time.Time { return now }))

		Convey("When more than ten landed inside 24 hours", func() {
			check, err := detector.CheckFrequency(context.Background(), "author", "repo")

			Convey("Then it should flag", func() {
				So(err, ShouldBeNil)
				So(check.Flagged, ShouldBeTrue)
				So(check.Evidence["count"], ShouldEqual, 11)
			})
		})

		Convey("When old contributions age out of the window", func() {
			history.contributions = history.contributions[:10]
			check, err := detector.CheckFrequency(context.Background(), "author", "repo")

			Convey("Then exactly the limit should not flag", func() {
				So(err, ShouldBeNil)
				So(check.Flagged, ShouldBeFalse)
			})
		})
	})
}

func TestCheckFarming(t *testing.T) {
	Convey("Given a detector with the default 500 point cap", t, func() {
		ctx := context.Background()

		Convey("When the contributor is under the cap", func() {
			detector := gaming.NewDetector(&fakeHistory{earned: 470})
			check, err := detector.CheckFarming(ctx, "contributor", "repo")

			Convey("Then the remaining allowance should cap awards", func() {
				So(err, ShouldBeNil)
				So(check.Flagged, ShouldBeFalse)
				So(check.Remaining, ShouldEqual, 30)
				So(check.CapAward(50), ShouldEqual, 30)
				So(check.CapAward(20), ShouldEqual, 20)
			})
		})

		Convey("When the contributor is at the cap", func() {
			detector := gaming.NewDetector(&fakeHistory{earned: 500})
			check, err := detector.CheckFarming(ctx, "contributor", "repo")

			Convey("Then awards should cap to zero", func() {
				So(err, ShouldBeNil)
				So(check.Flagged, ShouldBeTrue)
				So(check.Remaining, ShouldEqual, 0)
				So(check.CapAward(75), ShouldEqual, 0)
			})
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a detector over mixed history", t, func() {
		detector := gaming.NewDetector(&fakeHistory{earned: 100})
		rec := model.Contribution{
			AuthorID:     "author",
			RepositoryID: "repo",
			Title:        "fix typo",
			DiffSize:     4,
		}

		Convey("When running all checks", func() {
			report, err := detector.Run(context.Background(), rec)

			Convey("Then spam and low-value should flag but not farming", func() {
				So(err, ShouldBeNil)
				So(report.Flagged(), ShouldBeTrue)
				So(report.Spam.Flagged, ShouldBeTrue)
				So(report.LowValue.Flagged, ShouldBeTrue)
				So(report.Frequency.Flagged, ShouldBeFalse)
				So(report.Farming.Flagged, ShouldBeFalse)
			})

			Convey("Then penalties should exclude farming", func() {
				penalties := report.Penalties()
				So(penalties, ShouldContainKey, "spam")
				So(penalties, ShouldContainKey, "low_value")
				So(penalties, ShouldNotContainKey, "frequency")
				So(penalties, ShouldNotContainKey, "farming")
			})
		})
	})
}
