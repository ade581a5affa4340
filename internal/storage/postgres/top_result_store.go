package postgres

import (
	"context"
	"fmt"
	"time"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

// TopResultStore implements storage.TopResultStore using PostgreSQL.
type TopResultStore struct {
	pool *Pool
}

// NewTopResultStore creates a new TopResultStore.
func NewTopResultStore(pool *Pool) *TopResultStore {
	return &TopResultStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TopResultStore = (*TopResultStore)(nil)

const topColumns = `
	run_id, rank, score, metric_sum, op_days,
	job_id, formula, combination,
	trade_count, hold_rate, profit_rate, loss_rate`

// InsertBulk adds a ranking atomically. Fails entire batch on any duplicate.
func (s *TopResultStore) InsertBulk(ctx context.Context, results []*domain.TopResult) (err error) {
	if len(results) == 0 {
		return nil
	}
	defer func(start time.Time) { s.pool.observe("insert_top_results", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO top_results (` + topColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	for _, r := range results {
		if r == nil || r.RunID == "" || r.Rank < 1 {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			r.RunID, r.Rank, r.Score, r.MetricSum, r.OpDays,
			r.JobID, r.FormulaText, r.CombinationKey,
			r.TradeCount, r.HoldRate, r.ProfitRate, r.LossRate,
		)
		if err != nil {
			if uniqueViolation(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert top result in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByRunID retrieves a run's ranking ordered by rank ASC.
func (s *TopResultStore) GetByRunID(ctx context.Context, runID string) (_ []*domain.TopResult, err error) {
	defer func(start time.Time) { s.pool.observe("get_top_results", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `SELECT `+topColumns+`
		FROM top_results
		WHERE run_id = $1
		ORDER BY rank ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query top results: %w", err)
	}
	defer rows.Close()

	var result []*domain.TopResult
	for rows.Next() {
		var r domain.TopResult
		if err := rows.Scan(
			&r.RunID, &r.Rank, &r.Score, &r.MetricSum, &r.OpDays,
			&r.JobID, &r.FormulaText, &r.CombinationKey,
			&r.TradeCount, &r.HoldRate, &r.ProfitRate, &r.LossRate,
		); err != nil {
			return nil, fmt.Errorf("scan top result: %w", err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top results: %w", err)
	}
	return result, nil
}
