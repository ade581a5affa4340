package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"threshold-lab/internal/config"
	"threshold-lab/internal/evaluator"
	"threshold-lab/internal/evaluator/remote"
	"threshold-lab/internal/observability"
	"threshold-lab/internal/storage"
	chstore "threshold-lab/internal/storage/clickhouse"
	"threshold-lab/internal/storage/memory"
	"threshold-lab/internal/storage/postgres"
)

// buildEvaluator assembles the backend named by the config. Cache hits are
// served before the guard so they are not rate limited.
func buildEvaluator(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) (evaluator.Evaluator, func(), error) {
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var base evaluator.Evaluator
	switch cfg.Evaluator.Kind {
	case config.EvaluatorSynthetic:
		base = evaluator.NewSynthetic(cfg.Evaluator.Peaks(), cfg.Search.SelectedMetrics...)
	case config.EvaluatorWS:
		wsCfg := remote.DefaultWSConfig()
		if cfg.Evaluator.AckTimeout > 0 {
			wsCfg.AckTimeout = cfg.Evaluator.AckTimeout
		}
		if cfg.Evaluator.ReadTimeout > 0 {
			wsCfg.ReadTimeout = cfg.Evaluator.ReadTimeout
		}
		if cfg.Evaluator.PingInterval > 0 {
			wsCfg.PingInterval = cfg.Evaluator.PingInterval
		}
		client, err := remote.NewWSClient(ctx, cfg.Evaluator.Endpoint, &wsCfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect evaluator: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		base = client
	case config.EvaluatorHTTP:
		base = remote.NewHTTPClient(cfg.Evaluator.Endpoint, nil).Evaluator()
	default:
		return nil, nil, fmt.Errorf("unknown evaluator kind %q", cfg.Evaluator.Kind)
	}

	guardCfg := cfg.Evaluator.GuardConfig()
	guardCfg.Metrics = metrics
	var eval evaluator.Evaluator = evaluator.NewGuarded(base, guardCfg, logger)

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			closeAll()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		eval = evaluator.NewCached(eval, client, cfg.Evaluator.CacheTTL, logger)
		logger.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Evaluator.CacheTTL).Msg("evaluation cache enabled")
	}

	logger.Info().Str("kind", cfg.Evaluator.Kind).Str("endpoint", cfg.Evaluator.Endpoint).Msg("evaluator ready")
	return eval, closeAll, nil
}

// openStores returns in-memory stores, or PostgreSQL stores plus the
// ClickHouse evaluation store when DSNs are configured.
func openStores(ctx context.Context, cfg *config.Config, useMemory bool, metrics *observability.Metrics, logger zerolog.Logger) (storage.Stores, func(), error) {
	noop := func() {}
	if useMemory || (cfg.Postgres.DSN == "" && cfg.ClickHouse.DSN == "") {
		logger.Info().Msg("using in-memory stores")
		return memory.NewStores(), noop, nil
	}

	var (
		stores  storage.Stores
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return storage.Stores{}, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		stores = postgres.NewStores(pool.WithMetrics(metrics))
		logger.Info().Msg("using postgres stores")
	}

	if cfg.ClickHouse.DSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			closeAll()
			return storage.Stores{}, nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		stores.Evaluations = chstore.NewEvaluationResultStore(conn)
		logger.Info().Msg("recording evaluations to clickhouse")
	}

	return stores, closeAll, nil
}
