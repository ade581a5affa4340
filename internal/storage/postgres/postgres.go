// Package postgres stores search runs and their results in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"threshold-lab/internal/observability"
	"threshold-lab/internal/storage"
)

const (
	applicationName = "thresholdlab"
	connectTimeout  = 15 * time.Second

	sqlStateUniqueViolation = "23505"
)

// Pool is the connection pool shared by all stores. Metrics are optional.
type Pool struct {
	*pgxpool.Pool
	metrics *observability.Metrics
}

// NewPool connects to dsn and verifies the server answers.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres dsn: %v", storage.ErrInvalidInput, err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	inner, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := inner.Ping(ctx); err != nil {
		inner.Close()
		return nil, fmt.Errorf("reach postgres: %w", err)
	}
	return &Pool{Pool: inner}, nil
}

// WithMetrics records query latency and errors of every store on this pool.
func (p *Pool) WithMetrics(m *observability.Metrics) *Pool {
	p.metrics = m
	return p
}

func (p *Pool) observe(operation string, start time.Time, err error) {
	p.metrics.RecordDBQuery("postgres", operation, time.Since(start), err)
}

func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}
