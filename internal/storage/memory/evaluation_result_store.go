package memory

import (
	"context"
	"sort"
	"sync"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

type evaluationKey struct {
	runID      string
	variable   string
	roundIndex int
	jobID      string
}

func keyOfEvaluation(r *domain.EvaluationRecord) evaluationKey {
	return evaluationKey{runID: r.RunID, variable: r.Variable, roundIndex: r.RoundIndex, jobID: r.JobID}
}

// EvaluationResultStore is an in-memory implementation of storage.EvaluationResultStore.
// Records are kept in insertion order.
type EvaluationResultStore struct {
	mu   sync.RWMutex
	data []*domain.EvaluationRecord
	keys map[evaluationKey]struct{}
}

// NewEvaluationResultStore creates a new in-memory evaluation result store.
func NewEvaluationResultStore() *EvaluationResultStore {
	return &EvaluationResultStore{
		keys: make(map[evaluationKey]struct{}),
	}
}

// InsertBulk adds records atomically. Fails entire batch on any duplicate.
func (s *EvaluationResultStore) InsertBulk(_ context.Context, records []*domain.EvaluationRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[evaluationKey]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.RunID == "" || r.JobID == "" {
			return storage.ErrInvalidInput
		}
		key := keyOfEvaluation(r)
		if _, exists := s.keys[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range records {
		rec := *r
		s.data = append(s.data, &rec)
		s.keys[keyOfEvaluation(r)] = struct{}{}
	}
	return nil
}

// GetByRunID retrieves a run's records ordered by recorded_at, then job_index.
func (s *EvaluationResultStore) GetByRunID(_ context.Context, runID string) ([]*domain.EvaluationRecord, error) {
	result := s.byRun(runID)
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].RecordedAt.Equal(result[j].RecordedAt) {
			return result[i].RecordedAt.Before(result[j].RecordedAt)
		}
		return result[i].JobIndex < result[j].JobIndex
	})
	return result, nil
}

// GetBestByRunID retrieves the limit highest-scoring records of a run.
func (s *EvaluationResultStore) GetBestByRunID(_ context.Context, runID string, limit int) ([]*domain.EvaluationRecord, error) {
	result := s.byRun(runID)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].AggregateScore > result[j].AggregateScore
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *EvaluationResultStore) byRun(runID string) []*domain.EvaluationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EvaluationRecord
	for _, r := range s.data {
		if r.RunID == runID {
			rec := *r
			result = append(result, &rec)
		}
	}
	return result
}

var _ storage.EvaluationResultStore = (*EvaluationResultStore)(nil)
