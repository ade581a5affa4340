// Package tracker keeps session-level best scores and decides when a new
// result is good enough to promote downstream.
package tracker

import (
	"fmt"
	"sync"
)

// Mode selects when the last-best score moves.
type Mode string

const (
	// ModeSingleShot updates the last best after every consideration.
	ModeSingleShot Mode = "single_shot"
	// ModeMultiRound updates the last best only for improved rounds.
	ModeMultiRound Mode = "multi_round"
)

// ParseMode validates a mode string. Empty means ModeMultiRound.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeMultiRound, nil
	case ModeSingleShot, ModeMultiRound:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown promotion mode %q", s)
}

// ConsiderPromotion decides whether candidate should be promoted and returns
// the updated locked best.
//
// Promotion is automatic when lastBest is nil; otherwise candidate must exceed
// lastBest * thresholdPercent / 100. The locked best moves to candidate whenever
// candidate is higher, regardless of promotion.
func ConsiderPromotion(candidate float64, lastBest, lockedBest *float64, thresholdPercent float64) (promote bool, locked *float64) {
	promote = lastBest == nil || candidate > *lastBest*(thresholdPercent/100)

	locked = lockedBest
	if lockedBest == nil || candidate > *lockedBest {
		v := candidate
		locked = &v
	}
	return promote, locked
}

// Decision is the outcome of one Tracker.Consider call.
type Decision struct {
	Candidate  float64  `json:"candidate"`
	Promoted   bool     `json:"promoted"`
	LastBest   *float64 `json:"last_best,omitempty"`
	LockedBest *float64 `json:"locked_best,omitempty"`
}

// Tracker holds the last and locked best across a session.
type Tracker struct {
	mu               sync.Mutex
	mode             Mode
	thresholdPercent float64
	lastBest         *float64
	lockedBest       *float64
}

// New creates a tracker. thresholdPercent is the promotion gate, e.g. 105
// requires a 5% gain over the last best.
func New(mode Mode, thresholdPercent float64) *Tracker {
	if mode == "" {
		mode = ModeMultiRound
	}
	return &Tracker{mode: mode, thresholdPercent: thresholdPercent}
}

// Restore seeds the tracker with scores from an earlier session.
func (t *Tracker) Restore(lastBest, lockedBest *float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastBest = copyFloat(lastBest)
	t.lockedBest = copyFloat(lockedBest)
}

// Consider evaluates candidate. roundImproved only matters in multi-round mode.
func (t *Tracker) Consider(candidate float64, roundImproved bool) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	promote, locked := ConsiderPromotion(candidate, t.lastBest, t.lockedBest, t.thresholdPercent)
	t.lockedBest = locked

	if t.mode == ModeSingleShot || roundImproved {
		v := candidate
		t.lastBest = &v
	}

	return Decision{
		Candidate:  candidate,
		Promoted:   promote,
		LastBest:   copyFloat(t.lastBest),
		LockedBest: copyFloat(t.lockedBest),
	}
}

// LastBest returns the current last best, or nil.
func (t *Tracker) LastBest() *float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyFloat(t.lastBest)
}

// LockedBest returns the current locked best, or nil.
func (t *Tracker) LockedBest() *float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyFloat(t.lockedBest)
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
