// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	workqueue "github.com/forgescore/forgescore/internal/adapters/mq/queue"
	workerpool "github.com/forgescore/forgescore/internal/adapters/mq/worker"
	"github.com/forgescore/forgescore/internal/adapters/repository"
	"github.com/forgescore/forgescore/internal/domain/abuse"
	"github.com/forgescore/forgescore/internal/domain/badge"
	"github.com/forgescore/forgescore/internal/domain/fingerprint"
	"github.com/forgescore/forgescore/internal/domain/gaming"
	"github.com/forgescore/forgescore/internal/domain/ledger"
	"github.com/forgescore/forgescore/internal/domain/model"
	"github.com/forgescore/forgescore/internal/domain/rank"
	"github.com/forgescore/forgescore/internal/domain/scoring"
	"github.com/forgescore/forgescore/internal/domain/statetoken"
	"github.com/forgescore/forgescore/pkg/logger"
)

// Service wires the scoring pipeline together: fingerprint reservation,
// queued delivery processing, the ledger, badges, and rank snapshots.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	registry  *fingerprint.Registry
	queue     workqueue.Queue
	pool      *workerpool.Pool
	engine    *scoring.Engine
	detector  *gaming.Detector
	reviewers *abuse.Detector
	ledger    *ledger.Ledger
	badges    *badge.Service
	ranks     *rank.Calculator
	tokens    statetoken.Issuer

	// Configuration
	workerCount      int
	queueSize        int
	snapshotInterval time.Duration
	staleReviewTTL   time.Duration
	stateTokenTTL    time.Duration
	badgeCatalog     []model.BadgeDefinition

	// State
	started bool
	stopCh  chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the work queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithSnapshotInterval sets how often leaderboard snapshots are taken.
func WithSnapshotInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.snapshotInterval = interval
		}
	}
}

// WithStaleReviewTTL sets how long a review claim may be held before the
// background sweep releases it.
func WithStaleReviewTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.staleReviewTTL = ttl
		}
	}
}

// WithStateTokenTTL bounds the lifetime of single-use admin state tokens.
func WithStateTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.stateTokenTTL = ttl
		}
	}
}

// WithBadgeCatalog sets the badge definitions seeded at startup.
func WithBadgeCatalog(defs []model.BadgeDefinition) Option {
	return func(s *Service) {
		if len(defs) > 0 {
			s.badgeCatalog = defs
		}
	}
}

// WithScoringEngine overrides the default scoring engine.
func WithScoringEngine(engine *scoring.Engine) Option {
	return func(s *Service) {
		if engine != nil {
			s.engine = engine
		}
	}
}

// WithGamingDetector overrides the default gaming detector.
func WithGamingDetector(detector *gaming.Detector) Option {
	return func(s *Service) {
		if detector != nil {
			s.detector = detector
		}
	}
}

// WithAbuseDetector overrides the default reviewer abuse detector.
func WithAbuseDetector(detector *abuse.Detector) Option {
	return func(s *Service) {
		if detector != nil {
			s.reviewers = detector
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service on top of store.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:            store,
		workerCount:      runtime.NumCPU() * 2,
		queueSize:        100000,
		snapshotInterval: time.Hour,
		staleReviewTTL:   72 * time.Hour,
		badgeCatalog:     badge.DefaultCatalog(),
		stopCh:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting contribution scoring service...")

	s.registry = fingerprint.NewRegistry(s.store)
	s.queue = workqueue.NewInMemoryQueue(
		workqueue.WithCapacity(s.queueSize),
		workqueue.WithBufferSize(s.queueSize),
	)
	if s.engine == nil {
		s.engine = scoring.NewEngine()
	}
	if s.detector == nil {
		s.detector = gaming.NewDetector(s.store)
	}
	if s.reviewers == nil {
		s.reviewers = abuse.NewDetector(s.store)
	}
	s.ledger = ledger.New(s.store)
	s.badges = badge.NewService(s.store, badge.NewEvaluator(s.store))
	s.ranks = rank.NewCalculator(s.store)
	var tokenOpts []statetoken.Option
	if s.stateTokenTTL > 0 {
		tokenOpts = append(tokenOpts, statetoken.WithTTL(s.stateTokenTTL))
	}
	s.tokens = statetoken.NewMemoryIssuer(tokenOpts...)

	if err := badge.SeedCatalog(ctx, s.store, s.badgeCatalog); err != nil {
		return err
	}

	s.pool = workerpool.NewPool(s.workerCount, s.queue, s)
	s.pool.Start(ctx)

	go s.runTickers(ctx)

	s.started = true
	s.logger.Info(ctx, "contribution scoring service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Duration("snapshotInterval", s.snapshotInterval),
	)

	return nil
}

// runTickers drives periodic snapshots and the stale review claim sweep.
func (s *Service) runTickers(ctx context.Context) {
	snapshots := time.NewTicker(s.snapshotInterval)
	sweeps := time.NewTicker(s.staleReviewTTL / 2)
	defer snapshots.Stop()
	defer sweeps.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-snapshots.C:
			s.queue.Enqueue(ctx, model.SnapshotRanks{Kind: model.LeaderboardGlobal})
			s.queue.Enqueue(ctx, model.SnapshotRanks{
				Kind:   model.LeaderboardMonthly,
				Period: time.Now().UTC().Format("2006-01"),
			})
		case <-sweeps.C:
			s.queue.Enqueue(ctx, model.SweepStaleReviews{
				OlderThan: time.Now().Add(-s.staleReviewTTL),
			})
		}
	}
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping contribution scoring service...")

	select {
	case <-s.stopCh:
		// Channel already closed
	default:
		close(s.stopCh)
	}

	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Error(ctx, "worker pool shutdown", logger.Error(err))
		}
	}
	if s.tokens != nil {
		s.tokens.Close()
	}

	s.started = false
	s.logger.Info(ctx, "contribution scoring service stopped")
}
