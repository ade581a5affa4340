package idhash

import (
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"threshold-lab/internal/domain"
)

func testFormula() domain.Formula {
	return domain.Formula{
		Conditions: []domain.Condition{{Variable: "rsi", Bound: domain.Bound{Lower: 20, Upper: 80}}},
		SortMode:   "desc",
	}
}

func testRange() domain.DateRange {
	return domain.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	}
}

func TestComputeJobID_Determinism(t *testing.T) {
	combo := domain.ParameterCombination{WindowWidth: 20, HoldingDays: 5}

	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		results[i] = ComputeJobID(testFormula(), combo, testRange())
	}

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Errorf("ComputeJobID not deterministic: run %d = %s, run 0 = %s", i, results[i], results[0])
		}
	}

	decoded, err := base58.Decode(results[0])
	if err != nil {
		t.Fatalf("job id is not base58: %v", err)
	}
	if len(decoded) != 32 {
		t.Errorf("decoded job id length = %d, want 32", len(decoded))
	}
}

func TestComputeJobID_DistinguishesInputs(t *testing.T) {
	combo := domain.ParameterCombination{WindowWidth: 20, HoldingDays: 5}
	base := ComputeJobID(testFormula(), combo, testRange())

	tests := []struct {
		name string
		id   string
	}{
		{"bound", ComputeJobID(testFormula().WithBound("rsi", domain.Bound{Lower: 30, Upper: 80}), combo, testRange())},
		{"sort mode", ComputeJobID(domain.Formula{Conditions: testFormula().Conditions, SortMode: "asc"}, combo, testRange())},
		{"combination", ComputeJobID(testFormula(), domain.ParameterCombination{WindowWidth: 20, HoldingDays: 6}, testRange())},
		{"date range", ComputeJobID(testFormula(), combo, domain.DateRange{Start: testRange().Start, End: testRange().End.AddDate(0, 0, 1)})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.id == base {
				t.Errorf("expected different job id when %s changes", tt.name)
			}
		})
	}
}

func TestComputeJobID_IdempotentRewrite(t *testing.T) {
	combo := domain.ParameterCombination{HoldingDays: 3}
	b := domain.Bound{Lower: 1, Upper: 2}

	once := ComputeJobID(testFormula().WithBound("vol", b), combo, testRange())
	twice := ComputeJobID(testFormula().WithBound("vol", b).WithBound("vol", b), combo, testRange())
	if once != twice {
		t.Errorf("rewriting the same bound twice changed job id: %s != %s", once, twice)
	}
}

func TestComputeResultID(t *testing.T) {
	a := ComputeResultID("run-1", "job-1", "rsi", 1)
	b := ComputeResultID("run-1", "job-1", "rsi", 2)
	if a == b {
		t.Error("round index must change result id")
	}
	if a != ComputeResultID("run-1", "job-1", "rsi", 1) {
		t.Error("ComputeResultID not deterministic")
	}
}
