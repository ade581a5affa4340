package clickhouse

import (
	"context"
	"fmt"
	"time"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

// EvaluationResultStore implements storage.EvaluationResultStore using ClickHouse.
type EvaluationResultStore struct {
	conn *Conn
}

// NewEvaluationResultStore creates a new EvaluationResultStore.
func NewEvaluationResultStore(conn *Conn) *EvaluationResultStore {
	return &EvaluationResultStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EvaluationResultStore = (*EvaluationResultStore)(nil)

const evaluationColumns = `
	run_id, variable, round_index, job_id, job_index,
	formula, combination, metric_sum, aggregate_score,
	op_days, trade_count, hold_rate, profit_rate, loss_rate, recorded_at`

// InsertBulk adds records as one batch. Fails entire batch on any duplicate.
func (s *EvaluationResultStore) InsertBulk(ctx context.Context, records []*domain.EvaluationRecord) error {
	if len(records) == 0 {
		return nil
	}

	// ReplacingMergeTree would silently collapse duplicates; keep append-only semantics.
	seen := make(map[string]struct{}, len(records))
	runs := make(map[string]struct{})
	for _, r := range records {
		if r == nil || r.RunID == "" || r.JobID == "" {
			return storage.ErrInvalidInput
		}
		key := recordKey(r.RunID, r.Variable, r.RoundIndex, r.JobID)
		if _, exists := seen[key]; exists {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
		runs[r.RunID] = struct{}{}
	}
	for runID := range runs {
		existing, err := s.keys(ctx, runID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		for key := range existing {
			if _, clash := seen[key]; clash {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO evaluation_results ("+evaluationColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.RunID, r.Variable, uint8(r.RoundIndex), r.JobID, uint32(r.JobIndex),
			r.FormulaText, r.CombinationKey, r.MetricSum, r.AggregateScore,
			uint32(r.OpDays), uint32(r.TradeCount), r.HoldRate, r.ProfitRate, r.LossRate, r.RecordedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRunID retrieves a run's records ordered by recorded_at, then job_index.
func (s *EvaluationResultStore) GetByRunID(ctx context.Context, runID string) ([]*domain.EvaluationRecord, error) {
	query := `SELECT ` + evaluationColumns + `
		FROM evaluation_results FINAL
		WHERE run_id = ?
		ORDER BY recorded_at ASC, job_index ASC`
	return s.query(ctx, query, runID)
}

// GetBestByRunID retrieves the limit highest-scoring records of a run.
func (s *EvaluationResultStore) GetBestByRunID(ctx context.Context, runID string, limit int) ([]*domain.EvaluationRecord, error) {
	if limit <= 0 {
		limit = domain.TopK
	}
	query := `SELECT ` + evaluationColumns + `
		FROM evaluation_results FINAL
		WHERE run_id = ?
		ORDER BY aggregate_score DESC, recorded_at ASC, job_index ASC
		LIMIT ?`
	return s.query(ctx, query, runID, limit)
}

func (s *EvaluationResultStore) query(ctx context.Context, query string, args ...any) ([]*domain.EvaluationRecord, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query evaluation results: %w", err)
	}
	defer rows.Close()

	var result []*domain.EvaluationRecord
	for rows.Next() {
		var (
			r                        domain.EvaluationRecord
			roundIndex               uint8
			jobIndex, opDays, trades uint32
			recordedAt               time.Time
		)
		if err := rows.Scan(
			&r.RunID, &r.Variable, &roundIndex, &r.JobID, &jobIndex,
			&r.FormulaText, &r.CombinationKey, &r.MetricSum, &r.AggregateScore,
			&opDays, &trades, &r.HoldRate, &r.ProfitRate, &r.LossRate, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan evaluation result: %w", err)
		}
		r.RoundIndex = int(roundIndex)
		r.JobIndex = int(jobIndex)
		r.OpDays = int(opDays)
		r.TradeCount = int(trades)
		r.RecordedAt = recordedAt.UTC()
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluation results: %w", err)
	}
	return result, nil
}

func (s *EvaluationResultStore) keys(ctx context.Context, runID string) (map[string]struct{}, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT variable, round_index, job_id
		FROM evaluation_results
		WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var (
			variable, jobID string
			roundIndex      uint8
		)
		if err := rows.Scan(&variable, &roundIndex, &jobID); err != nil {
			return nil, err
		}
		keys[recordKey(runID, variable, int(roundIndex), jobID)] = struct{}{}
	}
	return keys, rows.Err()
}

func recordKey(runID, variable string, roundIndex int, jobID string) string {
	return fmt.Sprintf("%s|%s|%d|%s", runID, variable, roundIndex, jobID)
}
