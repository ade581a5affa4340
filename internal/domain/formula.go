package domain

import (
	"fmt"
	"strings"
)

// Bound is a (lower, upper) constraint pair applied to a variable.
// Lower == Upper is a valid degenerate bound.
type Bound struct {
	Lower float64 `json:"lower" yaml:"lower"`
	Upper float64 `json:"upper" yaml:"upper"`
}

// Valid reports whether Lower <= Upper.
func (b Bound) Valid() bool {
	return b.Lower <= b.Upper
}

// Degenerate reports whether the bound collapses to a single value.
func (b Bound) Degenerate() bool {
	return b.Lower == b.Upper
}

// String renders the bound with 2 decimals.
func (b Bound) String() string {
	return fmt.Sprintf("[%.2f, %.2f]", b.Lower, b.Upper)
}

// Condition is the sub-condition of a formula that belongs to one variable.
type Condition struct {
	Variable string `json:"variable" yaml:"variable"`
	Bound    Bound  `json:"bound" yaml:"bound"`
}

// Text renders the condition in canonical form.
func (c Condition) Text() string {
	if c.Bound.Degenerate() {
		return fmt.Sprintf("%s == %.2f", c.Variable, c.Bound.Lower)
	}
	return fmt.Sprintf("%s >= %.2f AND %s <= %.2f", c.Variable, c.Bound.Lower, c.Variable, c.Bound.Upper)
}

// Formula is a trading-rule condition expression plus a sort mode tag.
// The search engine only rewrites the condition of a single variable at a time;
// every other condition is carried over untouched.
//
// Formula is a value type: WithBound and Without return modified copies.
type Formula struct {
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	SortMode   string      `json:"sort_mode,omitempty" yaml:"sort_mode"`
}

// Bound returns the bound currently applied to variable, if any.
func (f Formula) Bound(variable string) (Bound, bool) {
	for _, c := range f.Conditions {
		if c.Variable == variable {
			return c.Bound, true
		}
	}
	return Bound{}, false
}

// WithBound returns a copy of f with the condition for variable set to b.
// An existing condition is replaced in place; otherwise the condition is appended.
// Applying the same (variable, bound) twice yields the same formula.
func (f Formula) WithBound(variable string, b Bound) Formula {
	out := Formula{
		Conditions: make([]Condition, 0, len(f.Conditions)+1),
		SortMode:   f.SortMode,
	}
	replaced := false
	for _, c := range f.Conditions {
		if c.Variable == variable {
			if replaced {
				continue
			}
			c.Bound = b
			replaced = true
		}
		out.Conditions = append(out.Conditions, c)
	}
	if !replaced {
		out.Conditions = append(out.Conditions, Condition{Variable: variable, Bound: b})
	}
	return out
}

// Without returns a copy of f with the condition for variable removed.
func (f Formula) Without(variable string) Formula {
	out := Formula{
		Conditions: make([]Condition, 0, len(f.Conditions)),
		SortMode:   f.SortMode,
	}
	for _, c := range f.Conditions {
		if c.Variable != variable {
			out.Conditions = append(out.Conditions, c)
		}
	}
	return out
}

// Clone returns a deep copy of f.
func (f Formula) Clone() Formula {
	out := Formula{SortMode: f.SortMode}
	if f.Conditions != nil {
		out.Conditions = append([]Condition(nil), f.Conditions...)
	}
	return out
}

// Text renders the formula in canonical form. Two formulas with equal Text are
// treated as the same formula for deduplication.
func (f Formula) Text() string {
	parts := make([]string, len(f.Conditions))
	for i, c := range f.Conditions {
		parts[i] = c.Text()
	}
	text := strings.Join(parts, " AND ")
	if text == "" {
		text = "TRUE"
	}
	if f.SortMode != "" {
		text += " | sort=" + f.SortMode
	}
	return text
}

// String implements fmt.Stringer.
func (f Formula) String() string {
	return f.Text()
}
