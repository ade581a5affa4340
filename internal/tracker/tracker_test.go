package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestConsiderPromotion_FirstResult(t *testing.T) {
	promote, locked := ConsiderPromotion(-5, nil, nil, 110)
	assert.True(t, promote)
	require.NotNil(t, locked)
	assert.Equal(t, -5.0, *locked)
}

func TestConsiderPromotion_Gate(t *testing.T) {
	tests := []struct {
		name      string
		candidate float64
		lastBest  float64
		threshold float64
		want      bool
	}{
		{"exactly at gate", 110, 100, 110, false},
		{"just above gate", 110.01, 100, 110, true},
		{"below gate", 105, 100, 110, false},
		{"threshold 100 equal", 100, 100, 100, false},
		{"threshold 100 above", 100.5, 100, 100, true},
		{"lower threshold accepts regressions", 90, 100, 80, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := ConsiderPromotion(tt.candidate, f(tt.lastBest), nil, tt.threshold)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsiderPromotion_NeverPromotesAtOrBelowGate(t *testing.T) {
	for _, last := range []float64{-50, 0, 1, 33.3, 1000} {
		for _, threshold := range []float64{50, 100, 105, 200} {
			gate := last * (threshold / 100)
			for _, delta := range []float64{0, -0.01, -10} {
				got, _ := ConsiderPromotion(gate+delta, f(last), nil, threshold)
				assert.False(t, got, "last=%v threshold=%v candidate=%v", last, threshold, gate+delta)
			}
		}
	}
}

func TestConsiderPromotion_LockedBestMonotonic(t *testing.T) {
	_, locked := ConsiderPromotion(10, f(100), f(50), 110)
	assert.Equal(t, 50.0, *locked)

	promote, locked := ConsiderPromotion(60, f(100), f(50), 110)
	assert.False(t, promote)
	assert.Equal(t, 60.0, *locked, "locked best moves even without promotion")
}

func TestTracker_MultiRound(t *testing.T) {
	tr := New(ModeMultiRound, 100)

	d := tr.Consider(10, false)
	assert.True(t, d.Promoted)
	assert.Nil(t, d.LastBest, "not improved: last best stays unset")
	assert.Equal(t, 10.0, *d.LockedBest)

	d = tr.Consider(12, true)
	assert.True(t, d.Promoted)
	assert.Equal(t, 12.0, *tr.LastBest())

	d = tr.Consider(11, false)
	assert.False(t, d.Promoted)
	assert.Equal(t, 12.0, *tr.LastBest())
	assert.Equal(t, 12.0, *tr.LockedBest())
}

func TestTracker_SingleShot(t *testing.T) {
	tr := New(ModeSingleShot, 100)

	tr.Consider(20, false)
	d := tr.Consider(15, false)

	assert.False(t, d.Promoted)
	assert.Equal(t, 15.0, *tr.LastBest())
	assert.Equal(t, 20.0, *tr.LockedBest())
}

func TestTracker_Restore(t *testing.T) {
	tr := New("", 105)
	tr.Restore(f(100), f(120))

	d := tr.Consider(104, true)
	assert.False(t, d.Promoted)
	assert.Equal(t, 120.0, *d.LockedBest)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeMultiRound, m)

	m, err = ParseMode("single_shot")
	require.NoError(t, err)
	assert.Equal(t, ModeSingleShot, m)

	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}
