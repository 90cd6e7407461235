package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/forgescore/forgescore/internal/adapters/repository"
	"github.com/forgescore/forgescore/internal/domain/fingerprint"
	"github.com/forgescore/forgescore/internal/domain/model"
	"github.com/forgescore/forgescore/internal/domain/rank"
	"github.com/forgescore/forgescore/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func startedService(t *testing.T, opts ...Option) (*Service, *repository.MemStore) {
	t.Helper()
	store := repository.NewMemStore()
	opts = append([]Option{WithWorkerCount(2), WithQueueSize(128)}, opts...)
	svc := New(store, opts...)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc, store
}

// waitUntil polls cond until it holds or the timeout passes.
func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// waitProcessed waits for a delivery's fingerprint to be marked processed,
// which the pipeline does only after all its writes have landed.
func waitProcessed(ctx context.Context, store *repository.MemStore, deliveryID, eventType, action string, subjectID int64) bool {
	token := fingerprint.Token(deliveryID, eventType, action, subjectID)
	return waitUntil(3*time.Second, func() bool {
		fp, _, err := store.ReserveFingerprint(ctx, model.Fingerprint{Token: token})
		return err == nil && fp.Processed
	})
}

func openedEvent(subjectID int64, author string, additions int) model.PullRequestEvent {
	return model.PullRequestEvent{
		EventAction:   "opened",
		SubjectID:     subjectID,
		Number:        int(subjectID),
		RepoSubjectID: 7,
		AuthorID:      author,
		Title:         "add request retry budget",
		Additions:     additions,
		Deletions:     10,
		CreatedAt:     time.Now().Add(-time.Hour),
	}
}

func mergedEvent(subjectID int64, author string) model.PullRequestEvent {
	ev := openedEvent(subjectID, author, 200)
	ev.EventAction = "closed"
	ev.Merged = true
	ev.MergedAt = time.Now()
	return ev
}

func TestAcceptAndProcess(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service", t, func() {
		svc, store := startedService(t)

		Convey("When an opened pull request is delivered", func() {
			outcome, err := svc.Accept(ctx, "delivery-1", openedEvent(101, "alice", 200))

			Convey("Then it is accepted and scored asynchronously", func() {
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, fingerprint.OutcomeNew)
				So(waitProcessed(ctx, store, "delivery-1", "pull_request", "opened", 101), ShouldBeTrue)

				balance, err := svc.Balance(ctx, "alice")
				So(err, ShouldBeNil)
				So(balance, ShouldEqual, 10)

				rec, err := svc.Contribution(ctx, 101)
				So(err, ShouldBeNil)
				So(rec.State, ShouldEqual, model.StateOpen)
				So(rec.Score, ShouldEqual, 10)
			})
		})

		Convey("When the same delivery is replayed after processing", func() {
			_, err := svc.Accept(ctx, "delivery-1", openedEvent(101, "alice", 200))
			So(err, ShouldBeNil)
			So(waitProcessed(ctx, store, "delivery-1", "pull_request", "opened", 101), ShouldBeTrue)

			outcome, err := svc.Accept(ctx, "delivery-1", openedEvent(101, "alice", 200))

			Convey("Then it is acknowledged as a duplicate with no second award", func() {
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, fingerprint.OutcomeDuplicate)

				time.Sleep(100 * time.Millisecond)
				balance, err := svc.Balance(ctx, "alice")
				So(err, ShouldBeNil)
				So(balance, ShouldEqual, 10)

				history, err := svc.PointHistory(ctx, "alice")
				So(err, ShouldBeNil)
				So(history, ShouldHaveLength, 1)
			})
		})

		Convey("When the pull request is later merged", func() {
			_, err := svc.Accept(ctx, "delivery-1", openedEvent(101, "alice", 200))
			So(err, ShouldBeNil)
			So(waitProcessed(ctx, store, "delivery-1", "pull_request", "opened", 101), ShouldBeTrue)

			_, err = svc.Accept(ctx, "delivery-2", mergedEvent(101, "alice"))
			So(err, ShouldBeNil)

			Convey("Then the merge award lands and the first badge follows", func() {
				So(waitProcessed(ctx, store, "delivery-2", "pull_request", "closed", 101), ShouldBeTrue)

				balance, err := svc.Balance(ctx, "alice")
				So(err, ShouldBeNil)
				So(balance, ShouldEqual, 60)

				rec, err := svc.Contribution(ctx, 101)
				So(err, ShouldBeNil)
				So(rec.State, ShouldEqual, model.StateMerged)

				So(waitUntil(3*time.Second, func() bool {
					held, err := svc.Badges(ctx, "alice")
					return err == nil && len(held) == 1
				}), ShouldBeTrue)
				held, err := svc.Badges(ctx, "alice")
				So(err, ShouldBeNil)
				So(held[0].BadgeID, ShouldEqual, "first-contribution")
			})
		})

		Convey("When a tiny diff is delivered", func() {
			ev := openedEvent(102, "bob", 2)
			ev.Deletions = 1
			_, err := svc.Accept(ctx, "delivery-3", ev)
			So(err, ShouldBeNil)

			Convey("Then the spam penalty zeroes the award", func() {
				So(waitProcessed(ctx, store, "delivery-3", "pull_request", "opened", 102), ShouldBeTrue)

				rec, err := svc.Contribution(ctx, 102)
				So(err, ShouldBeNil)
				So(rec.Score, ShouldEqual, 0) // base 10 minus spam penalty, clamped

				_, err = svc.Balance(ctx, "bob")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

// flakyStore drops the first processed mark so the delivery stays eligible
// for a redelivery retry after its writes have landed.
type flakyStore struct {
	*repository.MemStore
	markFailures int32
}

func (f *flakyStore) MarkFingerprintProcessed(ctx context.Context, token, lastError string) error {
	if atomic.AddInt32(&f.markFailures, -1) >= 0 {
		return errors.New("store unavailable")
	}
	return f.MemStore.MarkFingerprintProcessed(ctx, token, lastError)
}

func TestRetriedDeliveryScoresOnce(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store that loses the first processed mark", t, func() {
		store := &flakyStore{MemStore: repository.NewMemStore(), markFailures: 1}
		svc := New(store, WithWorkerCount(2), WithQueueSize(128))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		Convey("When the delivery is accepted and then redelivered", func() {
			_, err := svc.Accept(ctx, "delivery-1", openedEvent(101, "alice", 200))
			So(err, ShouldBeNil)
			So(waitUntil(3*time.Second, func() bool {
				balance, err := svc.Balance(ctx, "alice")
				return err == nil && balance == 10
			}), ShouldBeTrue)

			outcome, err := svc.Accept(ctx, "delivery-1", openedEvent(101, "alice", 200))

			Convey("Then the retry completes without awarding again", func() {
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, fingerprint.OutcomeRetry)
				So(waitProcessed(ctx, store.MemStore, "delivery-1", "pull_request", "opened", 101), ShouldBeTrue)

				balance, err := svc.Balance(ctx, "alice")
				So(err, ShouldBeNil)
				So(balance, ShouldEqual, 10)

				rec, err := svc.Contribution(ctx, 101)
				So(err, ShouldBeNil)
				So(rec.Score, ShouldEqual, 10)

				history, err := svc.PointHistory(ctx, "alice")
				So(err, ShouldBeNil)
				So(history, ShouldHaveLength, 1)
			})
		})
	})
}

func TestRepositoryAndPushEvents(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service", t, func() {
		svc, store := startedService(t)

		Convey("When a repository event arrives", func() {
			_, err := svc.Accept(ctx, "delivery-repo", model.RepositoryEvent{
				EventAction:   "created",
				RepoSubjectID: 9,
				Name:          "forge",
				FullName:      "acme/forge",
			})
			So(err, ShouldBeNil)

			Convey("Then the repository is tracked", func() {
				So(waitUntil(3*time.Second, func() bool {
					repo, err := store.GetRepositoryBySubject(ctx, 9)
					return err == nil && repo.FullName == "acme/forge"
				}), ShouldBeTrue)
			})
		})

		Convey("When the repository is archived", func() {
			_, err := svc.Accept(ctx, "delivery-repo", model.RepositoryEvent{EventAction: "created", RepoSubjectID: 9, Name: "forge"})
			So(err, ShouldBeNil)
			So(waitUntil(3*time.Second, func() bool {
				_, err := store.GetRepositoryBySubject(ctx, 9)
				return err == nil
			}), ShouldBeTrue)

			_, err = svc.Accept(ctx, "delivery-archive", model.RepositoryEvent{EventAction: "archived", RepoSubjectID: 9})
			So(err, ShouldBeNil)

			Convey("Then it goes inactive", func() {
				So(waitUntil(3*time.Second, func() bool {
					repo, err := store.GetRepositoryBySubject(ctx, 9)
					return err == nil && !repo.Active
				}), ShouldBeTrue)
			})
		})

		Convey("When the repository is privatized", func() {
			_, err := svc.Accept(ctx, "delivery-repo", model.RepositoryEvent{EventAction: "created", RepoSubjectID: 9, Name: "forge"})
			So(err, ShouldBeNil)
			So(waitUntil(3*time.Second, func() bool {
				_, err := store.GetRepositoryBySubject(ctx, 9)
				return err == nil
			}), ShouldBeTrue)

			_, err = svc.Accept(ctx, "delivery-private", model.RepositoryEvent{EventAction: "privatized", RepoSubjectID: 9})
			So(err, ShouldBeNil)

			Convey("Then it goes inactive like an archive", func() {
				So(waitUntil(3*time.Second, func() bool {
					repo, err := store.GetRepositoryBySubject(ctx, 9)
					return err == nil && !repo.Active
				}), ShouldBeTrue)
			})
		})

		Convey("When the repository is transferred to a new owner", func() {
			_, err := svc.Accept(ctx, "delivery-repo", model.RepositoryEvent{EventAction: "created", RepoSubjectID: 9, Name: "forge", FullName: "acme/forge"})
			So(err, ShouldBeNil)
			So(waitUntil(3*time.Second, func() bool {
				_, err := store.GetRepositoryBySubject(ctx, 9)
				return err == nil
			}), ShouldBeTrue)

			_, err = svc.Accept(ctx, "delivery-transfer", model.RepositoryEvent{EventAction: "transferred", RepoSubjectID: 9, Name: "forge", FullName: "initech/forge"})
			So(err, ShouldBeNil)

			Convey("Then the new full name lands and the repository stays active", func() {
				So(waitUntil(3*time.Second, func() bool {
					repo, err := store.GetRepositoryBySubject(ctx, 9)
					return err == nil && repo.FullName == "initech/forge" && repo.Active
				}), ShouldBeTrue)
			})
		})

		Convey("When a pull request opens under an inactive repository", func() {
			_, err := svc.Accept(ctx, "delivery-repo", model.RepositoryEvent{EventAction: "created", RepoSubjectID: 7, Name: "forge"})
			So(err, ShouldBeNil)
			_, err = svc.Accept(ctx, "delivery-archive", model.RepositoryEvent{EventAction: "archived", RepoSubjectID: 7})
			So(err, ShouldBeNil)
			So(waitUntil(3*time.Second, func() bool {
				repo, err := store.GetRepositoryBySubject(ctx, 7)
				return err == nil && !repo.Active
			}), ShouldBeTrue)

			_, err = svc.Accept(ctx, "delivery-pr", openedEvent(301, "alice", 200))
			So(err, ShouldBeNil)

			Convey("Then the contribution is tracked but earns nothing", func() {
				So(waitProcessed(ctx, store, "delivery-pr", "pull_request", "opened", 301), ShouldBeTrue)

				rec, err := svc.Contribution(ctx, 301)
				So(err, ShouldBeNil)
				So(rec.Score, ShouldEqual, 0)

				_, err = svc.Balance(ctx, "alice")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When a feature branch push arrives", func() {
			outcome, err := svc.Accept(ctx, "delivery-push", model.PushEvent{
				Ref:           "refs/heads/feature-x",
				RepoSubjectID: 9,
				DefaultBranch: "main",
				CommitCount:   3,
			})

			Convey("Then it is accepted and quietly ignored", func() {
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, fingerprint.OutcomeNew)
			})
		})
	})
}

func TestReviews(t *testing.T) {
	ctx := context.Background()

	Convey("Given a tracked open pull request", t, func() {
		svc, store := startedService(t)
		_, err := svc.Accept(ctx, "delivery-1", openedEvent(201, "alice", 300))
		So(err, ShouldBeNil)
		So(waitProcessed(ctx, store, "delivery-1", "pull_request", "opened", 201), ShouldBeTrue)

		Convey("When two reviewers race for the claim", func() {
			first := svc.ClaimReview(ctx, 201, "rev-1")
			second := svc.ClaimReview(ctx, 201, "rev-2")

			Convey("Then only one wins", func() {
				So(first, ShouldBeNil)
				So(errors.Is(second, ErrReviewClaimed), ShouldBeTrue)
			})
		})

		Convey("When an approval with a rating is submitted", func() {
			err := svc.SubmitReview(ctx, 201, "rev-1", model.ReviewApproved, 5)

			Convey("Then the contribution reaches APPROVED", func() {
				So(err, ShouldBeNil)
				rec, err := svc.Contribution(ctx, 201)
				So(err, ShouldBeNil)
				So(rec.State, ShouldEqual, model.StateApproved)
				So(rec.ReviewedAt.IsZero(), ShouldBeFalse)
				So(rec.ApprovedAt.IsZero(), ShouldBeFalse)
			})

			Convey("And a later merge is scored with the rating multiplier", func() {
				So(err, ShouldBeNil)
				_, err := svc.Accept(ctx, "delivery-2", mergedEvent(201, "alice"))
				So(err, ShouldBeNil)

				// 10 opened + 50 merged * 1.5 for a 5.0 mean rating.
				So(waitUntil(3*time.Second, func() bool {
					balance, err := svc.Balance(ctx, "alice")
					return err == nil && balance == 85
				}), ShouldBeTrue)
			})
		})

		Convey("When the rating is out of range", func() {
			err := svc.SubmitReview(ctx, 201, "rev-1", model.ReviewApproved, 6)

			So(errors.Is(err, ErrInvalidRating), ShouldBeTrue)
		})

		Convey("When an unknown subject is reviewed", func() {
			err := svc.SubmitReview(ctx, 999, "rev-1", model.ReviewApproved, 4)

			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestSynchronize(t *testing.T) {
	ctx := context.Background()

	Convey("Given a pull request under review", t, func() {
		svc, store := startedService(t)
		_, err := svc.Accept(ctx, "delivery-1", openedEvent(401, "alice", 200))
		So(err, ShouldBeNil)
		So(waitProcessed(ctx, store, "delivery-1", "pull_request", "opened", 401), ShouldBeTrue)

		review := openedEvent(401, "alice", 200)
		review.EventAction = "review_requested"
		_, err = svc.Accept(ctx, "delivery-2", review)
		So(err, ShouldBeNil)
		So(waitProcessed(ctx, store, "delivery-2", "pull_request", "review_requested", 401), ShouldBeTrue)

		Convey("When new commits are pushed to the branch", func() {
			sync := openedEvent(401, "alice", 500)
			sync.EventAction = "synchronize"
			_, err := svc.Accept(ctx, "delivery-3", sync)
			So(err, ShouldBeNil)

			Convey("Then the contribution drops back to OPEN with the new diff", func() {
				So(waitProcessed(ctx, store, "delivery-3", "pull_request", "synchronize", 401), ShouldBeTrue)

				rec, err := svc.Contribution(ctx, 401)
				So(err, ShouldBeNil)
				So(rec.State, ShouldEqual, model.StateOpen)
				So(rec.DiffSize, ShouldEqual, 510)
			})
		})

		Convey("When the pull request is already merged", func() {
			_, err := svc.Accept(ctx, "delivery-4", mergedEvent(401, "alice"))
			So(err, ShouldBeNil)
			So(waitProcessed(ctx, store, "delivery-4", "pull_request", "closed", 401), ShouldBeTrue)

			sync := openedEvent(401, "alice", 500)
			sync.EventAction = "synchronize"
			_, err = svc.Accept(ctx, "delivery-5", sync)
			So(err, ShouldBeNil)

			Convey("Then the merge is final and only metadata refreshes", func() {
				So(waitProcessed(ctx, store, "delivery-5", "pull_request", "synchronize", 401), ShouldBeTrue)

				rec, err := svc.Contribution(ctx, 401)
				So(err, ShouldBeNil)
				So(rec.State, ShouldEqual, model.StateMerged)
				So(rec.DiffSize, ShouldEqual, 510)
			})
		})
	})
}

func TestLeaderboardAndRanks(t *testing.T) {
	ctx := context.Background()

	Convey("Given contributors with adjusted balances", t, func() {
		svc, _ := startedService(t)
		_, err := svc.AdjustPoints(ctx, "alice", 100, model.KindBonus, "admin-1", "seed")
		So(err, ShouldBeNil)
		_, err = svc.AdjustPoints(ctx, "bob", 40, model.KindBonus, "admin-1", "seed")
		So(err, ShouldBeNil)

		Convey("When the global leaderboard is requested", func() {
			entries, err := svc.Leaderboard(ctx, model.LeaderboardGlobal, "", "", 10)

			Convey("Then it is ordered and dense", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
				So(entries[0].ContributorID, ShouldEqual, "alice")
				So(entries[0].Rank, ShouldEqual, 1)
				So(entries[1].Rank, ShouldEqual, 2)
			})

			Convey("And the limit truncates", func() {
				So(err, ShouldBeNil)
				top, err := svc.Leaderboard(ctx, model.LeaderboardGlobal, "", "", 1)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 1)
			})

			Convey("And a non-positive limit is rejected", func() {
				So(err, ShouldBeNil)
				_, err := svc.Leaderboard(ctx, model.LeaderboardGlobal, "", "", 0)
				So(errors.Is(err, ErrInvalidLimit), ShouldBeTrue)
			})
		})

		Convey("When one contributor's rank is requested", func() {
			entry, err := svc.RankOf(ctx, "bob")

			So(err, ShouldBeNil)
			So(entry.Rank, ShouldEqual, 2)
			So(entry.Points, ShouldEqual, 40)

			_, err = svc.RankOf(ctx, "nobody")
			So(errors.Is(err, ErrUnknownSubject), ShouldBeTrue)
		})

		Convey("When two snapshots bracket a rank swap", func() {
			_, err := svc.Snapshot(ctx, model.LeaderboardGlobal, "", "")
			So(err, ShouldBeNil)

			_, err = svc.AdjustPoints(ctx, "bob", 100, model.KindBonus, "admin-1", "surge")
			So(err, ShouldBeNil)
			_, err = svc.Snapshot(ctx, model.LeaderboardGlobal, "", "")
			So(err, ShouldBeNil)

			movements, err := svc.RankChange(ctx, model.LeaderboardGlobal, "", "")

			Convey("Then the movement is reported", func() {
				So(err, ShouldBeNil)
				byID := map[string]rank.Movement{}
				for _, m := range movements {
					byID[m.ContributorID] = m
				}
				So(byID["bob"].Delta, ShouldEqual, 1)
				So(byID["alice"].Delta, ShouldEqual, -1)
			})
		})

		Convey("When no snapshots exist yet", func() {
			_, err := svc.RankChange(ctx, model.LeaderboardGlobal, "", "")

			So(errors.Is(err, rank.ErrNoHistory), ShouldBeTrue)
		})
	})
}

func TestAdminOperations(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service", t, func() {
		svc, _ := startedService(t)

		Convey("When points are adjusted and then reversed", func() {
			tx, err := svc.AdjustPoints(ctx, "alice", 30, model.KindBonus, "admin-1", "hackathon")
			So(err, ShouldBeNil)

			rev, err := svc.ReverseTransaction(ctx, tx.ID, "admin-2", "granted twice")

			Convey("Then the ledger nets to zero and both actions are audited", func() {
				So(err, ShouldBeNil)
				So(rev.Points, ShouldEqual, -30)

				balance, err := svc.Balance(ctx, "alice")
				So(err, ShouldBeNil)
				So(balance, ShouldEqual, 0)

				entries, err := svc.Audit(ctx, model.AuditFilter{Subject: "alice"})
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
				So(entries[0].Action, ShouldEqual, "points_adjusted")
				So(entries[1].Action, ShouldEqual, "transaction_reversed")
			})

			Convey("And the ledger still verifies", func() {
				So(err, ShouldBeNil)
				drifts, err := svc.VerifyLedger(ctx)
				So(err, ShouldBeNil)
				So(drifts, ShouldBeEmpty)
			})
		})

		Convey("When a badge is granted through the state token flow", func() {
			token := svc.IssueStateToken(ctx, "grant-badge:admin-1")
			award, err := svc.GrantBadge(ctx, token, "alice", "prolific", "admin-1", "community vote")

			Convey("Then the award lands exactly once per token", func() {
				So(err, ShouldBeNil)
				So(award.BadgeID, ShouldEqual, "prolific")
				So(award.Manual, ShouldBeTrue)

				_, err := svc.GrantBadge(ctx, token, "alice", "steady-hand", "admin-1", "again")
				So(errors.Is(err, ErrInvalidStateToken), ShouldBeTrue)
			})

			Convey("And revocation needs a justification", func() {
				So(err, ShouldBeNil)
				revokeErr := svc.RevokeBadge(ctx, "alice", "prolific", "admin-1", "")
				So(revokeErr, ShouldNotBeNil)

				So(svc.RevokeBadge(ctx, "alice", "prolific", "admin-1", "granted in error"), ShouldBeNil)
				held, err := svc.Badges(ctx, "alice")
				So(err, ShouldBeNil)
				So(held, ShouldBeEmpty)
			})
		})

		Convey("When a bogus state token is presented", func() {
			_, err := svc.GrantBadge(ctx, "not-a-token", "alice", "prolific", "admin-1", "because")

			So(errors.Is(err, ErrInvalidStateToken), ShouldBeTrue)
		})

		Convey("When the service stats are read", func() {
			stats := svc.GetStats()

			So(stats["started"], ShouldBeTrue)
			So(stats["queueLength"], ShouldNotBeNil)
		})
	})
}
