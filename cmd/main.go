package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgescore/forgescore/internal/adapters/http/api"
	"github.com/forgescore/forgescore/internal/adapters/http/swagger"
	"github.com/forgescore/forgescore/internal/adapters/repository"
	app "github.com/forgescore/forgescore/internal/app"
	"github.com/forgescore/forgescore/internal/config"
	"github.com/forgescore/forgescore/internal/domain/abuse"
	"github.com/forgescore/forgescore/internal/domain/badge"
	"github.com/forgescore/forgescore/internal/domain/gaming"
	"github.com/forgescore/forgescore/internal/domain/ledger"
	"github.com/forgescore/forgescore/internal/domain/model"
	"github.com/forgescore/forgescore/internal/domain/rank"
	"github.com/forgescore/forgescore/internal/loadgen"
	"github.com/forgescore/forgescore/pkg/logger"
	"github.com/forgescore/forgescore/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "forgescore",
		Short:   "Contribution scoring service",
		Version: version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(verifyLedgerCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(loadgenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore selects the sqlite store when a path is configured and falls
// back to the in-memory store otherwise.
func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.StorePath == "" {
		return repository.NewMemStore(), nil
	}
	return repository.NewSQLiteStore(cfg.StorePath)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook ingestion and scoring server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			logger.Error(err)
		}
	}()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	catalog := badge.DefaultCatalog()
	if cfg.BadgeCatalogPath != "" {
		catalog, err = badge.LoadCatalog(cfg.BadgeCatalogPath)
		if err != nil {
			return fmt.Errorf("load badge catalog: %w", err)
		}
	}

	svc := app.New(store,
		app.WithLogger(log),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithSnapshotInterval(time.Duration(cfg.SnapshotIntervalMin)*time.Minute),
		app.WithStaleReviewTTL(time.Duration(cfg.StaleReviewTTLHours)*time.Hour),
		app.WithStateTokenTTL(time.Duration(cfg.StateTokenTTLSec)*time.Second),
		app.WithBadgeCatalog(catalog),
		app.WithGamingDetector(gaming.NewDetector(store,
			gaming.WithSpamThreshold(cfg.SpamDiffThreshold, cfg.SpamPenalty),
			gaming.WithLowValueThreshold(cfg.LowValueDiffCeiling, cfg.LowValuePenalty),
			gaming.WithFrequencyLimit(cfg.FrequencyLimit, cfg.FrequencyPenalty),
			gaming.WithFarmingCap(cfg.FarmingCapPoints, time.Duration(cfg.FarmingWindowDays)*24*time.Hour),
		)),
		app.WithAbuseDetector(abuse.NewDetector(store,
			abuse.WithDailyLimit(cfg.ReviewerMaxPerDay),
			abuse.WithRates(cfg.ReviewerRejectionRate, cfg.ReviewerExtremeRate),
			abuse.WithTargetedRepeat(cfg.ReviewerTargetedRepeat),
			abuse.WithMinSample(cfg.ReviewerMinSample),
		)),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	go startServiceMetricsUpdater(ctx, svc)

	// HTTP mux and routes.
	mux := http.NewServeMux()

	// API documentation under /api-docs.
	swagger.Register(ctx, mux)

	apiServer := api.NewServer(svc, svc, cfg.WebhookSecret, cfg.MaxLeaderboardLimit)
	apiServer.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

func verifyLedgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-ledger",
		Short: "Check contributor balances against the transaction log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			drifts, err := ledger.New(store).VerifyIntegrity(ctx)
			if err != nil && len(drifts) == 0 {
				return err
			}
			if len(drifts) == 0 {
				fmt.Println("ledger consistent")
				return nil
			}
			for _, d := range drifts {
				fmt.Printf("drift: contributor=%s balance=%d sum=%d\n", d.ContributorID, d.Balance, d.Sum)
			}
			return fmt.Errorf("%d contributor(s) out of sync", len(drifts))
		},
	}
}

func snapshotCmd() *cobra.Command {
	var (
		kind    string
		period  string
		project string
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Take a leaderboard snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			snap, err := rank.NewCalculator(store).Snapshot(ctx, model.LeaderboardKind(kind), period, project)
			if err != nil {
				return err
			}
			fmt.Printf("snapshot %s kind=%s period=%s entries=%d\n", snap.ID, snap.Kind, snap.Period, len(snap.Entries))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(model.LeaderboardGlobal), "snapshot kind: GLOBAL, MONTHLY or PROJECT")
	cmd.Flags().StringVar(&period, "period", "", "period for monthly snapshots, e.g. 2026-09")
	cmd.Flags().StringVar(&project, "project", "", "project id for project snapshots")
	return cmd
}

func loadgenCmd() *cobra.Command {
	cfg := &loadgen.Config{}
	var timeoutSec int
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive a running server with synthetic webhook deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(); err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			cfg.Timeout = time.Duration(timeoutSec) * time.Second
			return loadgen.Run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:9080", "service base URL")
	cmd.Flags().StringVar(&cfg.Secret, "secret", "", "webhook HMAC secret; empty to skip signing")
	cmd.Flags().IntVar(&cfg.NumPulls, "pulls", 1000, "number of synthetic pull requests")
	cmd.Flags().IntVar(&cfg.Workers, "workers", 16, "concurrent submitters")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 10, "HTTP timeout in seconds")
	cmd.Flags().Float64Var(&cfg.DuplicateRate, "duplicate-rate", 0.05, "fraction of deliveries re-sent verbatim")
	cmd.Flags().IntVar(&cfg.TopN, "top", 20, "leaderboard size fetched for verification")
	cmd.Flags().BoolVar(&cfg.Verbose, "verbose", false, "verbose logging")
	return cmd
}

// startServiceMetricsUpdater mirrors queue depth and worker count gauges
// from the running service.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := svc.GetStats()
			if queueLen, ok := stats["queueLength"].(int); ok {
				metrics.UpdateQueueSize(queueLen)
			}
			if workerCount, ok := stats["workerCount"].(int); ok {
				metrics.UpdateWorkerCount(workerCount)
			}
		}
	}
}
