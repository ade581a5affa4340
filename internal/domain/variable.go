package domain

import "math"

// VariableCategory classifies a searchable variable.
type VariableCategory string

// Variable category constants.
const (
	CategoryOutput    VariableCategory = "output"
	CategoryAuxiliary VariableCategory = "auxiliary"
)

// Variable is a named quantity whose bound is used as a rule threshold.
// Min/Max come from a prior evaluation's aggregate statistics and are nil
// until a baseline evaluation has produced them.
type Variable struct {
	Name     string
	Category VariableCategory

	Min *float64
	Max *float64

	// Diagnostics, optional
	MedianPositive *float64
	MedianNegative *float64
}

// HasStatistics reports whether both Min and Max are defined and finite.
func (v Variable) HasStatistics() bool {
	if v.Min == nil || v.Max == nil {
		return false
	}
	return !math.IsNaN(*v.Min) && !math.IsNaN(*v.Max) &&
		!math.IsInf(*v.Min, 0) && !math.IsInf(*v.Max, 0)
}

// WithStatistics returns a copy of v carrying the given statistics.
func (v Variable) WithStatistics(s VariableStats) Variable {
	out := v
	out.Min = s.Min
	out.Max = s.Max
	out.MedianPositive = s.MedianPositive
	out.MedianNegative = s.MedianNegative
	return out
}

// VariableStats is the statistics snapshot of one variable as reported by an evaluation.
type VariableStats struct {
	Min            *float64 `json:"min,omitempty"`
	Max            *float64 `json:"max,omitempty"`
	MedianPositive *float64 `json:"median_positive,omitempty"`
	MedianNegative *float64 `json:"median_negative,omitempty"`
}

// Float returns a pointer to v. Used for optional statistics fields.
func Float(v float64) *float64 {
	return &v
}
