package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"threshold-lab/internal/config"
	"threshold-lab/internal/domain"
	"threshold-lab/internal/observability"
	"threshold-lab/internal/scheduler"
	"threshold-lab/internal/scoring"
	"threshold-lab/internal/search"
	"threshold-lab/internal/sink"
	"threshold-lab/internal/statistics"
	"threshold-lab/internal/storage"
	"threshold-lab/internal/tracker"
)

type runFlags struct {
	useMemory     bool
	outputDir     string
	metricsAddr   string
	postgresDSN   string
	clickhouseDSN string
}

func newRunCmd(root *rootFlags) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a threshold search",
		Long: `Runs the coordinate search described by --config. SIGINT or SIGTERM cancel the
search; the partial outcome is still stored and written to the output directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runSearch(cmd.Context(), cfg, flags.useMemory)
		},
	}

	cmd.Flags().BoolVar(&flags.useMemory, "use-memory", false, "Keep results in memory instead of the databases")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "Directory for report files; overrides config")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve /metrics on this address while running")
	cmd.Flags().StringVar(&flags.postgresDSN, "postgres-dsn", "", "PostgreSQL DSN; overrides config")
	cmd.Flags().StringVar(&flags.clickhouseDSN, "clickhouse-dsn", "", "ClickHouse DSN; overrides config")

	return cmd
}

func (f runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("output-dir") {
		cfg.Output.Dir = f.outputDir
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if cmd.Flags().Changed("postgres-dsn") {
		cfg.Postgres.DSN = f.postgresDSN
	}
	if cmd.Flags().Changed("clickhouse-dsn") {
		cfg.ClickHouse.DSN = f.clickhouseDSN
	}
}

func loadConfig(root *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(root.config, root.envFile)
	if err != nil {
		return nil, err
	}
	if root.logLevel == "" {
		if err := applyLogLevel(cfg.Log.Level); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runSearch(parent context.Context, cfg *config.Config, useMemory bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := log.Logger.With().Str("run_id", runID).Logger()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("", reg)
	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(cfg.Metrics.Addr, observability.HandlerFor(reg), logger)
		defer shutdown()
	}

	eval, closeEval, err := buildEvaluator(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer closeEval()

	stores, closeStores, err := openStores(ctx, cfg, useMemory, metrics, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	sched := scheduler.New(eval, scheduler.Options{
		PollInterval:    cfg.Scheduler.PollInterval,
		MaxPollAttempts: cfg.Scheduler.MaxPollAttempts,
		JobTimeout:      cfg.Scheduler.JobTimeout,
		Logger:          logger,
		Metrics:         metrics,
	})

	req := scoring.Request{
		SelectedMetrics: cfg.Search.SelectedMetrics,
		Filters:         cfg.Search.Filters,
		K:               domain.TopK,
	}

	var provider statistics.Provider
	if cfg.Search.BaselineFromEvaluator {
		provider = &statistics.EvaluatorProvider{
			Runner:       sched,
			Combinations: cfg.Search.Combinations,
			DateRange:    cfg.Search.DateRange,
			Request:      req,
			Logger:       logger,
		}
	}

	mode, err := tracker.ParseMode(cfg.Promotion.Mode)
	if err != nil {
		return err
	}
	best := tracker.New(mode, cfg.Promotion.ThresholdPercent)
	restoreTracker(ctx, best, stores.Runs, logger)

	hooks := search.Hooks{
		OnRoundComplete: func(r domain.RoundRecord) {
			ev := logger.Debug().Str("variable", r.Variable).Int("round", r.RoundIndex)
			if r.BestScore != nil {
				ev = ev.Float64("score", *r.BestScore)
			}
			ev.Bool("improved", r.Improved).Msg("round recorded")
		},
	}
	var recorder *sink.EvaluationRecorder
	if stores.Evaluations != nil {
		recorder = sink.NewEvaluationRecorder(ctx, stores.Evaluations, runID, logger)
		hooks.OnRoundResults = recorder.Record
	}

	controller := search.New(search.Options{
		Runner:     sched,
		Statistics: provider,
		Tracker:    best,
		Hooks:      hooks,
		Logger:     logger,
		Metrics:    metrics,
	})

	out, runErr := controller.Run(ctx, search.Input{
		RunID:          runID,
		Queue:          cfg.Search.Queue(),
		Formula:        cfg.Search.Formula,
		Combinations:   cfg.Search.Combinations,
		DateRange:      cfg.Search.DateRange,
		Scoring:        req,
		RequestedCount: cfg.Search.RequestedCount,
		StepDivisors:   cfg.Search.Divisors(),
	})
	if out == nil {
		return runErr
	}

	if recorder != nil {
		written, failures := recorder.Stats()
		logger.Info().Int("records", written).Int("failed_batches", failures).Msg("evaluation results recorded")
	}

	// Publishing must survive the cancellation that may have ended the search.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	reportDir := filepath.Join(cfg.Output.Dir, runID)
	publisher := sink.Multi{
		sink.NewStoreSink(stores, logger),
		sink.NewFileSink(reportDir, nil, logger),
	}
	if err := publisher.Publish(pubCtx, out); err != nil {
		logger.Error().Err(err).Msg("failed to publish outcome")
		if runErr == nil {
			return err
		}
	}

	fmt.Fprintf(os.Stdout, "Run %s: %s\n", out.RunID, out.Status)
	fmt.Fprintf(os.Stdout, "  best formula: %s\n", out.BestFormula.Text())
	for _, rr := range out.Top {
		fmt.Fprintf(os.Stdout, "  #%d %.2f  %s\n", rr.Rank, rr.Score, rr.FormulaText())
	}
	fmt.Fprintf(os.Stdout, "  reports: %s\n", reportDir)

	if errors.Is(runErr, search.ErrCancelled) {
		logger.Warn().Msg("search cancelled; partial outcome published")
	}
	return runErr
}

// restoreTracker seeds the best-value tracker with the state the latest run
// left behind, so promotion compares against what was already promoted.
func restoreTracker(ctx context.Context, t *tracker.Tracker, runs storage.RunStore, logger zerolog.Logger) {
	if runs == nil {
		return
	}
	recent, err := runs.GetRecent(ctx, 10)
	if err != nil {
		logger.Warn().Err(err).Msg("could not load previous runs; tracker starts empty")
		return
	}
	for _, r := range recent {
		if r.LastBest == nil && r.LockedBest == nil {
			continue
		}
		t.Restore(r.LastBest, r.LockedBest)
		ev := logger.Info().Str("previous_run", r.RunID)
		if r.LastBest != nil {
			ev = ev.Float64("last_best", *r.LastBest)
		}
		if r.LockedBest != nil {
			ev = ev.Float64("locked_best", *r.LockedBest)
		}
		ev.Msg("tracker restored")
		return
	}
}

// serveMetrics starts a metrics server and returns its shutdown function.
func serveMetrics(addr string, handler http.Handler, logger zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
