package evaluator

import (
	"context"
	"math"
	"sync"

	"threshold-lab/internal/domain"
)

// Peak describes how one variable responds in the synthetic landscape: its natural
// range, the bound that scores best, and the weight of that variable in the score.
type Peak struct {
	Min    float64
	Max    float64
	Target domain.Bound
	Weight float64
}

// Synthetic is a deterministic in-process evaluator. It scores formulas by how
// closely each condition overlaps its variable's target bound. It is used by
// tests and by the CLI's synthetic mode.
type Synthetic struct {
	Peaks   map[string]Peak
	Metrics []string
	Base    float64

	// FailOn, when set, fails matching jobs with the returned error.
	FailOn func(job domain.EvaluationJob) error

	mu    sync.Mutex
	calls []domain.EvaluationJob
}

// NewSynthetic creates a synthetic evaluator reporting the given metrics.
func NewSynthetic(peaks map[string]Peak, metrics ...string) *Synthetic {
	if len(metrics) == 0 {
		metrics = []string{"profit"}
	}
	return &Synthetic{Peaks: peaks, Metrics: metrics, Base: 10}
}

// Submit implements Evaluator.
func (s *Synthetic) Submit(ctx context.Context, job domain.EvaluationJob) (*Ticket, error) {
	return Func(s.Evaluate).Submit(ctx, job)
}

// Evaluate scores job synchronously.
func (s *Synthetic) Evaluate(ctx context.Context, job domain.EvaluationJob) (*domain.EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, job)
	s.mu.Unlock()

	if s.FailOn != nil {
		if err := s.FailOn(job); err != nil {
			return nil, err
		}
	}

	closeness := 0.0
	coverage := 1.0
	stats := make(map[string]domain.VariableStats, len(s.Peaks))
	for name, p := range s.Peaks {
		natural := domain.Bound{Lower: p.Min, Upper: p.Max}
		b, ok := job.Formula.Bound(name)
		if !ok {
			b = natural
		}
		closeness += p.Weight * overlapRatio(b, p.Target)
		coverage *= widthRatio(b, natural)

		lo, hi := math.Max(b.Lower, p.Min), math.Min(b.Upper, p.Max)
		if lo > hi {
			lo, hi = b.Lower, b.Upper
		}
		stats[name] = domain.VariableStats{
			Min:            domain.Float(lo),
			Max:            domain.Float(hi),
			MedianPositive: domain.Float(math.Max(0, (lo+hi)/2)),
			MedianNegative: domain.Float(math.Min(0, (lo+hi)/2)),
		}
	}

	opDays := job.Combination.HoldingDays
	if opDays < 1 {
		opDays = 1
	}

	value := s.Base + closeness*100
	statistics := make(map[string]float64, len(s.Metrics))
	for i, m := range s.Metrics {
		statistics[m] = value / float64(i+1)
	}

	return &domain.EvaluationResult{
		Statistics:    statistics,
		OpDays:        opDays,
		TradeCount:    int(math.Round(1000 * coverage)),
		HoldRate:      50,
		ProfitRate:    clampPct(40 + closeness*20),
		LossRate:      clampPct(60 - closeness*20),
		VariableStats: stats,
	}, nil
}

// Calls returns the jobs evaluated so far, in order.
func (s *Synthetic) Calls() []domain.EvaluationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EvaluationJob, len(s.calls))
	copy(out, s.calls)
	return out
}

// overlapRatio is the intersection-over-union of two intervals, 1 when identical.
func overlapRatio(a, b domain.Bound) float64 {
	if a == b {
		return 1
	}
	inter := math.Min(a.Upper, b.Upper) - math.Max(a.Lower, b.Lower)
	if inter < 0 {
		return 0
	}
	union := math.Max(a.Upper, b.Upper) - math.Min(a.Lower, b.Lower)
	if union <= 0 {
		return 1
	}
	return inter / union
}

func widthRatio(b, natural domain.Bound) float64 {
	w := natural.Upper - natural.Lower
	if w <= 0 {
		return 1
	}
	return math.Max(0, math.Min(1, (b.Upper-b.Lower)/w))
}

func clampPct(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

var _ Evaluator = (*Synthetic)(nil)
