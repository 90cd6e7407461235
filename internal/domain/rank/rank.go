// Package rank computes leaderboard orderings and immutable snapshots.
// Ordering is points descending with first-contribution time as the
// deterministic tie-break, so equal inputs always rank identically.
package rank

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/forgescore/forgescore/internal/domain/model"
	"github.com/forgescore/forgescore/pkg/metrics"
)

// Store is the persistence surface the calculator needs.
type Store interface {
	ListContributors(ctx context.Context) ([]model.Contributor, error)

	// ListTransactionsInRange returns transactions created in [from, to).
	// Zero bounds are open-ended. repoIDs narrows to those repositories
	// when non-empty.
	ListTransactionsInRange(ctx context.Context, from, to time.Time, repoIDs []string) ([]model.PointTransaction, error)

	ListRepositoriesByProject(ctx context.Context, projectID string) ([]model.Repository, error)

	SaveRankSnapshot(ctx context.Context, snap model.RankSnapshot) error
	LatestRankSnapshots(ctx context.Context, kind model.LeaderboardKind, period, projectID string, n int) ([]model.RankSnapshot, error)
}

// Calculator produces and persists rank snapshots.
type Calculator struct {
	store Store
	now   func() time.Time
}

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCalculator creates a Calculator backed by store.
func NewCalculator(store Store, opts ...Option) *Calculator {
	c := &Calculator{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// order sorts contributor totals into rank entries. Ties on points break on
// the earlier first contribution, then on id so the result is total.
func order(totals map[string]int, firstAt map[string]time.Time) []model.RankEntry {
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if totals[a] != totals[b] {
			return totals[a] > totals[b]
		}
		fa, fb := firstAt[a], firstAt[b]
		if !fa.Equal(fb) {
			return fa.Before(fb)
		}
		return a < b
	})
	entries := make([]model.RankEntry, len(ids))
	for i, id := range ids {
		entries[i] = model.RankEntry{ContributorID: id, Rank: i + 1, Points: totals[id]}
	}
	return entries
}

// Global computes the all-time ordering from cached balances.
func (c *Calculator) Global(ctx context.Context) ([]model.RankEntry, error) {
	contributors, err := c.store.ListContributors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	totals := make(map[string]int, len(contributors))
	firstAt := make(map[string]time.Time, len(contributors))
	for _, ctr := range contributors {
		totals[ctr.ID] = ctr.Balance
		firstAt[ctr.ID] = ctr.FirstContributionAt
	}
	return order(totals, firstAt), nil
}

// Monthly computes the ordering for one calendar month, period "2006-01".
func (c *Calculator) Monthly(ctx context.Context, period string) ([]model.RankEntry, error) {
	from, err := time.Parse("2006-01", period)
	if err != nil {
		return nil, fmt.Errorf("%w: period %q", ErrInvalidPeriod, period)
	}
	to := from.AddDate(0, 1, 0)
	txs, err := c.store.ListTransactionsInRange(ctx, from, to, nil)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return c.fromTransactions(ctx, txs)
}

// Project computes the ordering over one project's repositories.
func (c *Calculator) Project(ctx context.Context, projectID string) ([]model.RankEntry, error) {
	repos, err := c.store.ListRepositoriesByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project repositories: %w", err)
	}
	if len(repos) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(repos))
	for _, r := range repos {
		ids = append(ids, r.ID)
	}
	txs, err := c.store.ListTransactionsInRange(ctx, time.Time{}, time.Time{}, ids)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return c.fromTransactions(ctx, txs)
}

func (c *Calculator) fromTransactions(ctx context.Context, txs []model.PointTransaction) ([]model.RankEntry, error) {
	totals := map[string]int{}
	for _, tx := range txs {
		totals[tx.ContributorID] += tx.Points
	}
	contributors, err := c.store.ListContributors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	firstAt := make(map[string]time.Time, len(contributors))
	for _, ctr := range contributors {
		firstAt[ctr.ID] = ctr.FirstContributionAt
	}
	return order(totals, firstAt), nil
}

// Snapshot computes and persists an immutable snapshot of one leaderboard.
func (c *Calculator) Snapshot(ctx context.Context, kind model.LeaderboardKind, period, projectID string) (model.RankSnapshot, error) {
	started := c.now()

	var (
		entries []model.RankEntry
		err     error
	)
	switch kind {
	case model.LeaderboardGlobal:
		entries, err = c.Global(ctx)
	case model.LeaderboardMonthly:
		if period == "" {
			period = c.now().UTC().Format("2006-01")
		}
		entries, err = c.Monthly(ctx, period)
	case model.LeaderboardProject:
		if projectID == "" {
			return model.RankSnapshot{}, ErrMissingProject
		}
		entries, err = c.Project(ctx, projectID)
	default:
		return model.RankSnapshot{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return model.RankSnapshot{}, err
	}

	snap := model.RankSnapshot{
		ID:        uuid.NewString(),
		Kind:      kind,
		Period:    period,
		ProjectID: projectID,
		TakenAt:   c.now(),
		Entries:   entries,
	}
	if err := c.store.SaveRankSnapshot(ctx, snap); err != nil {
		return model.RankSnapshot{}, fmt.Errorf("save rank snapshot: %w", err)
	}
	metrics.RecordRankSnapshot(string(kind))
	metrics.RecordSnapshotDuration(c.now().Sub(started).Seconds())
	return snap, nil
}

// Movement is one contributor's rank change between two snapshots. Delta is
// positive when they climbed.
type Movement struct {
	ContributorID string
	From          int // 0 when absent from the older snapshot
	To            int
	Delta         int
}

// Change compares the two most recent snapshots of one leaderboard.
func (c *Calculator) Change(ctx context.Context, kind model.LeaderboardKind, period, projectID string) ([]Movement, error) {
	snaps, err := c.store.LatestRankSnapshots(ctx, kind, period, projectID, 2)
	if err != nil {
		return nil, fmt.Errorf("load rank snapshots: %w", err)
	}
	if len(snaps) < 2 {
		return nil, ErrNoHistory
	}
	newer, older := snaps[0], snaps[1]
	prev := make(map[string]int, len(older.Entries))
	for _, e := range older.Entries {
		prev[e.ContributorID] = e.Rank
	}
	movements := make([]Movement, 0, len(newer.Entries))
	for _, e := range newer.Entries {
		from := prev[e.ContributorID]
		delta := 0
		if from > 0 {
			delta = from - e.Rank
		}
		movements = append(movements, Movement{
			ContributorID: e.ContributorID,
			From:          from,
			To:            e.Rank,
			Delta:         delta,
		})
	}
	return movements, nil
}
