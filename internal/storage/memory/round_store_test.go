package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

func TestRoundStore_InsertBulkAndOrder(t *testing.T) {
	store := NewRoundStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rounds := []*domain.RoundRecord{
		{RunID: "run1", Variable: "y", RoundIndex: 1, StartedAt: base.Add(2 * time.Minute)},
		{RunID: "run1", Variable: "x", RoundIndex: 2, StartedAt: base.Add(time.Minute)},
		{RunID: "run1", Variable: "x", RoundIndex: 1, StartedAt: base},
		{RunID: "run2", Variable: "x", RoundIndex: 1, StartedAt: base},
	}
	if err := store.InsertBulk(ctx, rounds); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByRunID(ctx, "run1")
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rounds, got %d", len(got))
	}
	want := []string{"x/1", "x/2", "y/1"}
	for i, r := range got {
		key := fmt.Sprintf("%s/%d", r.Variable, r.RoundIndex)
		if key != want[i] {
			t.Errorf("round %d: got %s, want %s", i, key, want[i])
		}
	}
}

func TestRoundStore_BulkIsAtomic(t *testing.T) {
	store := NewRoundStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.RoundRecord{
		{RunID: "run1", Variable: "x", RoundIndex: 1},
		{RunID: "run1", Variable: "x", RoundIndex: 1},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetByRunID(ctx, "run1")
	if len(got) != 0 {
		t.Errorf("expected nothing inserted, got %d", len(got))
	}
}
