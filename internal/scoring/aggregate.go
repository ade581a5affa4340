// Package scoring turns raw evaluation statistics into decayed aggregate
// scores and keeps the top-ranked results.
package scoring

import (
	"math"
	"sort"

	"threshold-lab/internal/domain"
)

// Range is an inclusive percentage range filter.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies in [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Filters are the pass/fail gates a result must clear before it is ranked.
// Nil fields are disabled.
type Filters struct {
	// MinTradeCount must be exceeded strictly by the result's trade count.
	MinTradeCount *float64 `yaml:"min_trade_count" json:"min_trade_count,omitempty"`
	// MinMetricSum must be exceeded strictly by the summed selected metrics.
	MinMetricSum *float64 `yaml:"min_metric_sum" json:"min_metric_sum,omitempty"`

	HoldRate   *Range `yaml:"hold_rate" json:"hold_rate,omitempty"`
	ProfitRate *Range `yaml:"profit_rate" json:"profit_rate,omitempty"`
	LossRate   *Range `yaml:"loss_rate" json:"loss_rate,omitempty"`
}

// Pass reports whether a result with the given metric sum clears every filter.
func (f Filters) Pass(r *domain.EvaluationResult, metricSum float64) bool {
	if f.MinTradeCount != nil && !(float64(r.TradeCount) > *f.MinTradeCount) {
		return false
	}
	if f.MinMetricSum != nil && !(metricSum > *f.MinMetricSum) {
		return false
	}
	if f.HoldRate != nil && !f.HoldRate.Contains(r.HoldRate) {
		return false
	}
	if f.ProfitRate != nil && !f.ProfitRate.Contains(r.ProfitRate) {
		return false
	}
	if f.LossRate != nil && !f.LossRate.Contains(r.LossRate) {
		return false
	}
	return true
}

// Request describes one aggregation.
type Request struct {
	SelectedMetrics []string
	// OpDaysOf returns the operating days used for decay. Nil uses Result.OpDays.
	OpDaysOf func(*domain.EvaluationResult) int
	Filters  Filters
	// K is the number of results kept. Zero means domain.TopK.
	K int
}

func (req Request) opDays(r *domain.EvaluationResult) int {
	if req.OpDaysOf != nil {
		return req.OpDaysOf(r)
	}
	return r.OpDays
}

// Score applies the holding-period decay: metricSum / (1 + (opDays-1)/100).
// opDays below 1 is treated as 1.
func Score(metricSum float64, opDays int) float64 {
	if opDays < 1 {
		opDays = 1
	}
	return metricSum / (1 + float64(opDays-1)/100)
}

// MetricSum sums the selected metrics. ok is false when any of them is missing
// or not a finite number.
func MetricSum(r *domain.EvaluationResult, metrics []string) (sum float64, ok bool) {
	if r == nil || len(metrics) == 0 {
		return 0, false
	}
	for _, m := range metrics {
		v, present := r.Statistics[m]
		if !present || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		sum += v
	}
	return sum, true
}

// Aggregate scores every result, drops those with missing metrics or failing a
// filter, and returns the top K by score. Equal scores keep evaluation order.
// Surviving results get MetricSum and AggregateScore set.
func Aggregate(results []*domain.EvaluationResult, req Request) []domain.RankedResult {
	k := req.K
	if k <= 0 {
		k = domain.TopK
	}

	ranked := make([]domain.RankedResult, 0, len(results))
	for _, r := range results {
		sum, ok := MetricSum(r, req.SelectedMetrics)
		if !ok || !req.Filters.Pass(r, sum) {
			continue
		}
		opDays := req.opDays(r)
		score := Score(sum, opDays)
		r.MetricSum = sum
		r.AggregateScore = score
		ranked = append(ranked, domain.RankedResult{
			Score:     score,
			MetricSum: sum,
			OpDays:    opDays,
			Result:    r,
		})
	}

	return rank(ranked, k)
}

// Merge combines ranked lists in order, drops entries with the same score and
// formula text as an earlier one, and returns the top domain.TopK.
func Merge(lists ...[]domain.RankedResult) []domain.RankedResult {
	type identity struct {
		score   float64
		formula string
	}

	seen := make(map[identity]struct{})
	var merged []domain.RankedResult
	for _, list := range lists {
		for _, rr := range list {
			id := identity{score: rr.Score, formula: rr.FormulaText()}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, rr)
		}
	}
	return rank(merged, domain.TopK)
}

func rank(ranked []domain.RankedResult, k int) []domain.RankedResult {
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
