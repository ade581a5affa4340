package memory

import (
	"context"
	"sort"
	"sync"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

type topKey struct {
	runID string
	rank  int
}

// TopResultStore is an in-memory implementation of storage.TopResultStore.
type TopResultStore struct {
	mu   sync.RWMutex
	data map[topKey]*domain.TopResult
}

// NewTopResultStore creates a new in-memory top result store.
func NewTopResultStore() *TopResultStore {
	return &TopResultStore{
		data: make(map[topKey]*domain.TopResult),
	}
}

// InsertBulk adds a ranking atomically. Fails entire batch on any duplicate.
func (s *TopResultStore) InsertBulk(_ context.Context, results []*domain.TopResult) error {
	if len(results) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[topKey]struct{}, len(results))
	for _, r := range results {
		if r == nil || r.RunID == "" || r.Rank < 1 {
			return storage.ErrInvalidInput
		}
		key := topKey{runID: r.RunID, rank: r.Rank}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range results {
		rec := *r
		s.data[topKey{runID: r.RunID, rank: r.Rank}] = &rec
	}
	return nil
}

// GetByRunID retrieves a run's ranking ordered by rank ASC.
func (s *TopResultStore) GetByRunID(_ context.Context, runID string) ([]*domain.TopResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TopResult
	for _, r := range s.data {
		if r.RunID == runID {
			rec := *r
			result = append(result, &rec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Rank < result[j].Rank
	})
	return result, nil
}

var _ storage.TopResultStore = (*TopResultStore)(nil)
