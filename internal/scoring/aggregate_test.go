package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threshold-lab/internal/domain"
)

func result(opDays int, stats map[string]float64) *domain.EvaluationResult {
	return &domain.EvaluationResult{
		Statistics: stats,
		OpDays:     opDays,
		TradeCount: 100,
		HoldRate:   50,
		ProfitRate: 60,
		LossRate:   40,
	}
}

func ptr(v float64) *float64 { return &v }

func TestScore_Decay(t *testing.T) {
	assert.InDelta(t, 50.0, Score(50, 1), 1e-9)
	assert.InDelta(t, 48.08, Score(50, 5), 0.005)
	assert.InDelta(t, 45.87, Score(50, 10), 0.005)
	assert.Equal(t, Score(50, 1), Score(50, 0))
}

func TestAggregate_OpDaysOrdering(t *testing.T) {
	results := []*domain.EvaluationResult{
		result(10, map[string]float64{"a": 20, "b": 30}),
		result(1, map[string]float64{"a": 25, "b": 25}),
		result(5, map[string]float64{"a": 50, "b": 0}),
	}

	top := Aggregate(results, Request{SelectedMetrics: []string{"a", "b"}})

	require.Len(t, top, 3)
	assert.Equal(t, []int{1, 5, 10}, []int{top[0].OpDays, top[1].OpDays, top[2].OpDays})
	assert.Equal(t, []int{1, 2, 3}, []int{top[0].Rank, top[1].Rank, top[2].Rank})
	assert.InDelta(t, 48.08, top[1].Score, 0.005)
	assert.InDelta(t, 45.87, results[0].AggregateScore, 0.005)
	assert.Equal(t, 50.0, results[0].MetricSum)
}

func TestAggregate_MissingMetricExcluded(t *testing.T) {
	results := []*domain.EvaluationResult{
		result(1, map[string]float64{"a": 1000}),
		result(1, map[string]float64{"a": 1, "b": 1}),
		result(1, map[string]float64{"a": math.NaN(), "b": 5}),
	}

	top := Aggregate(results, Request{SelectedMetrics: []string{"a", "b"}})

	require.Len(t, top, 1)
	assert.Same(t, results[1], top[0].Result)
	assert.Zero(t, results[0].AggregateScore, "excluded result must not be scored")
}

func TestAggregate_StableTies(t *testing.T) {
	var results []*domain.EvaluationResult
	for i := 0; i < 5; i++ {
		r := result(1, map[string]float64{"a": 10})
		r.JobIndex = i
		results = append(results, r)
	}

	top := Aggregate(results, Request{SelectedMetrics: []string{"a"}})

	require.Len(t, top, 3)
	for i, rr := range top {
		assert.Equal(t, i, rr.Result.JobIndex)
	}
}

func TestAggregate_Filters(t *testing.T) {
	tests := []struct {
		name    string
		filters Filters
		mutate  func(*domain.EvaluationResult)
		pass    bool
	}{
		{"no filters", Filters{}, nil, true},
		{"trade count strict", Filters{MinTradeCount: ptr(100)}, nil, false},
		{"trade count above", Filters{MinTradeCount: ptr(99)}, nil, true},
		{"metric sum strict", Filters{MinMetricSum: ptr(10)}, nil, false},
		{"hold rate inclusive edge", Filters{HoldRate: &Range{Min: 50, Max: 50}}, nil, true},
		{"profit rate outside", Filters{ProfitRate: &Range{Min: 70, Max: 100}}, nil, false},
		{"loss rate inside", Filters{LossRate: &Range{Min: 0, Max: 40}}, nil, true},
		{
			"loss rate above max",
			Filters{LossRate: &Range{Min: 0, Max: 40}},
			func(r *domain.EvaluationResult) { r.LossRate = 40.01 },
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := result(1, map[string]float64{"a": 10})
			if tt.mutate != nil {
				tt.mutate(r)
			}
			top := Aggregate([]*domain.EvaluationResult{r}, Request{SelectedMetrics: []string{"a"}, Filters: tt.filters})
			assert.Equal(t, tt.pass, len(top) == 1)
		})
	}
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, Request{SelectedMetrics: []string{"a"}}))
	assert.Empty(t, Aggregate([]*domain.EvaluationResult{result(1, nil)}, Request{SelectedMetrics: []string{"a"}}))
	assert.Empty(t, Aggregate([]*domain.EvaluationResult{result(1, map[string]float64{"a": 1})}, Request{}))
}

func TestAggregate_OpDaysOf(t *testing.T) {
	r := result(1, map[string]float64{"a": 50})
	top := Aggregate([]*domain.EvaluationResult{r}, Request{
		SelectedMetrics: []string{"a"},
		OpDaysOf:        func(*domain.EvaluationResult) int { return 5 },
	})
	require.Len(t, top, 1)
	assert.Equal(t, 5, top[0].OpDays)
	assert.InDelta(t, 48.08, top[0].Score, 0.005)
}

func TestMerge_DedupesAndRanks(t *testing.T) {
	f1 := domain.Formula{}.WithBound("x", domain.Bound{Lower: 1, Upper: 2})
	f2 := domain.Formula{}.WithBound("x", domain.Bound{Lower: 1, Upper: 3})
	mk := func(score float64, f domain.Formula) domain.RankedResult {
		return domain.RankedResult{Score: score, Result: &domain.EvaluationResult{Formula: f}}
	}

	round1 := []domain.RankedResult{mk(10, f1), mk(8, f2)}
	round2 := []domain.RankedResult{mk(10, f1), mk(12, f2), mk(9, f1)}

	top := Merge(round1, round2)

	require.Len(t, top, 3)
	assert.Equal(t, []float64{12, 10, 9}, []float64{top[0].Score, top[1].Score, top[2].Score})
	assert.Equal(t, 1, top[0].Rank)
	assert.Empty(t, Merge())
}
