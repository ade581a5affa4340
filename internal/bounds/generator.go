// Package bounds generates candidate (lower, upper) bounds for one variable.
package bounds

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"threshold-lab/internal/domain"
)

var (
	// ErrEmptyStatistics is returned when the variable has no baseline min/max.
	// Callers must skip the variable rather than treat it as a zero-width bound.
	ErrEmptyStatistics = errors.New("variable has no baseline statistics")

	// ErrGenerationEmpty is returned when no valid bound could be produced.
	ErrGenerationEmpty = errors.New("no bounds generated")

	// ErrInvalidArgument is returned for a non-positive divisor or count.
	ErrInvalidArgument = errors.New("invalid bound generation argument")
)

// Round2 rounds v to 2 decimal places, half away from zero.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Step returns the sweep step for a variable: max(1, floor(absMax / stepDivisor)).
func Step(min, max float64, stepDivisor int) float64 {
	absMax := math.Max(math.Abs(max), math.Abs(min))
	return math.Max(1, math.Floor(absMax/float64(stepDivisor)))
}

// Generate returns the candidate bounds for v.
//
// The left sweep walks down from v.Max and supplies upper bounds; the right sweep
// walks up from v.Min and supplies lower bounds. Each sweep holds at most
// requestedCount values and stops once it leaves [v.Min, v.Max]. The result is the
// deduplicated Cartesian product restricted to lower <= upper, in sweep order,
// so identical inputs always produce an identical slice.
func Generate(v domain.Variable, stepDivisor, requestedCount int) ([]domain.Bound, error) {
	if stepDivisor <= 0 || requestedCount < 1 {
		return nil, fmt.Errorf("%w: divisor=%d count=%d", ErrInvalidArgument, stepDivisor, requestedCount)
	}
	if !v.HasStatistics() {
		return nil, fmt.Errorf("%s: %w", v.Name, ErrEmptyStatistics)
	}

	min, max := *v.Min, *v.Max
	step := Step(min, max, stepDivisor)

	uppers := make([]float64, 0, requestedCount)
	for i := 0; i < requestedCount; i++ {
		val := max - float64(i)*step
		if val < min {
			break
		}
		uppers = append(uppers, Round2(val))
	}

	lowers := make([]float64, 0, requestedCount)
	for i := 0; i < requestedCount; i++ {
		val := min + float64(i)*step
		if val > max {
			break
		}
		lowers = append(lowers, Round2(val))
	}

	seen := make(map[domain.Bound]struct{}, len(uppers)*len(lowers)+1)
	out := make([]domain.Bound, 0, len(uppers)*len(lowers)+1)
	add := func(b domain.Bound) {
		if !b.Valid() {
			return
		}
		if _, ok := seen[b]; ok {
			return
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}

	for _, upper := range uppers {
		for _, lower := range lowers {
			add(domain.Bound{Lower: lower, Upper: upper})
		}
	}

	if min == max {
		r := Round2(min)
		add(domain.Bound{Lower: r, Upper: r})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", v.Name, ErrGenerationEmpty)
	}
	return out, nil
}
