package memory

import (
	"context"
	"errors"
	"testing"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

func TestVariableOutcomeStore_OrderedByPosition(t *testing.T) {
	store := NewVariableOutcomeStore()
	ctx := context.Background()

	outcomes := []*domain.VariableOutcome{
		{RunID: "run1", Variable: "z", Position: 2, Status: domain.VariableSkipped},
		{RunID: "run1", Variable: "x", Position: 0, Status: domain.VariableImproved},
		{RunID: "run1", Variable: "y", Position: 1, Status: domain.VariableNoImprovement},
	}
	if err := store.InsertBulk(ctx, outcomes); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByRunID(ctx, "run1")
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	for i, want := range []string{"x", "y", "z"} {
		if got[i].Variable != want {
			t.Errorf("position %d: got %s, want %s", i, got[i].Variable, want)
		}
	}
}

func TestVariableOutcomeStore_DuplicateKey(t *testing.T) {
	store := NewVariableOutcomeStore()
	ctx := context.Background()

	o := &domain.VariableOutcome{RunID: "run1", Variable: "x"}
	if err := store.InsertBulk(ctx, []*domain.VariableOutcome{o}); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	if err := store.InsertBulk(ctx, []*domain.VariableOutcome{o}); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}
