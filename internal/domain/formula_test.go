package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormula_WithBoundIdempotent(t *testing.T) {
	f := Formula{
		Conditions: []Condition{
			{Variable: "rsi", Bound: Bound{Lower: 20, Upper: 80}},
			{Variable: "vol", Bound: Bound{Lower: 1, Upper: 5}},
		},
		SortMode: "desc",
	}

	once := f.WithBound("rsi", Bound{Lower: 30, Upper: 70})
	twice := once.WithBound("rsi", Bound{Lower: 30, Upper: 70})

	assert.Equal(t, once.Text(), twice.Text())
	assert.Equal(t, "rsi >= 30.00 AND rsi <= 70.00 AND vol >= 1.00 AND vol <= 5.00 | sort=desc", twice.Text())

	// original untouched
	b, ok := f.Bound("rsi")
	require.True(t, ok)
	assert.Equal(t, Bound{Lower: 20, Upper: 80}, b)
}

func TestFormula_WithBoundAppends(t *testing.T) {
	f := Formula{}
	g := f.WithBound("ret5", Bound{Lower: -1, Upper: 2})

	require.Len(t, g.Conditions, 1)
	assert.Equal(t, "ret5", g.Conditions[0].Variable)
	assert.Empty(t, f.Conditions)
}

func TestFormula_Without(t *testing.T) {
	f := Formula{Conditions: []Condition{
		{Variable: "a", Bound: Bound{Lower: 1, Upper: 2}},
		{Variable: "b", Bound: Bound{Lower: 3, Upper: 4}},
	}}

	g := f.Without("a")
	assert.Equal(t, "b >= 3.00 AND b <= 4.00", g.Text())
	_, ok := g.Bound("a")
	assert.False(t, ok)

	// stripping an absent variable is a no-op
	assert.Equal(t, g.Text(), g.Without("zzz").Text())
}

func TestFormula_TextDegenerateAndEmpty(t *testing.T) {
	assert.Equal(t, "TRUE", Formula{}.Text())

	f := Formula{}.WithBound("x", Bound{Lower: 5, Upper: 5})
	assert.Equal(t, "x == 5.00", f.Text())
}

func TestVariable_HasStatistics(t *testing.T) {
	assert.False(t, Variable{Name: "x"}.HasStatistics())
	assert.False(t, Variable{Name: "x", Min: Float(1)}.HasStatistics())
	assert.True(t, Variable{Name: "x", Min: Float(-1), Max: Float(1)}.HasStatistics())
}
