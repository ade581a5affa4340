package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"threshold-lab/internal/bounds"
	"threshold-lab/internal/domain"
	"threshold-lab/internal/evaluator"
	"threshold-lab/internal/scoring"
)

// state is a node of the search state machine.
type state int

const (
	stateIdle state = iota
	stateStartingVariable
	stateRunningRound
	stateDeciding
	stateAdvancingRound
	stateBacktracking
	stateAdvancingVariable
	stateFinalizing
)

func (st state) String() string {
	switch st {
	case stateIdle:
		return "idle"
	case stateStartingVariable:
		return "starting_variable"
	case stateRunningRound:
		return "running_round"
	case stateDeciding:
		return "deciding"
	case stateAdvancingRound:
		return "advancing_round"
	case stateBacktracking:
		return "backtracking"
	case stateAdvancingVariable:
		return "advancing_variable"
	case stateFinalizing:
		return "finalizing"
	}
	return fmt.Sprintf("state(%d)", int(st))
}

// variableProgress is the bookkeeping of the variable being refined.
type variableProgress struct {
	variable domain.Variable
	// baseline is the statistics snapshot captured when this variable started.
	baseline domain.Snapshot
	// next is the variable (with statistics) the next round generates against.
	next domain.Variable
	// prevScore is the previous round's recorded best, or the score in effect
	// when the variable started.
	prevScore *float64

	improved    bool
	skipped     bool
	roundsRun   int
	bestBound   *domain.Bound
	bestScore   *float64
	bestFormula *domain.Formula
	lastErr     error
}

// roundResult is what RunningRound hands to Deciding.
type roundResult struct {
	record domain.RoundRecord
	top    []domain.RankedResult
	err    error
}

// session is the state of one search run. It is owned by a single goroutine.
type session struct {
	c   *Controller
	in  Input
	log zerolog.Logger

	divisors [domain.RoundsPerVariable]int
	state    domain.SearchState
	// running is the global running statistics snapshot.
	running domain.Snapshot

	cur   *variableProgress
	round roundResult

	roundTops [][]domain.RankedResult
	rounds    []domain.RoundRecord
	outcomes  []domain.VariableOutcome
	jobsRun   int

	top      []domain.RankedResult
	status   domain.RunStatus
	err      error
	promoted bool

	startedAt time.Time
}

func newSession(c *Controller, in Input) *session {
	return &session{
		c:        c,
		in:       in,
		log:      c.opts.Logger.With().Str("run_id", in.RunID).Logger(),
		divisors: in.divisors(),
		state: domain.SearchState{
			ParameterQueue:          append([]domain.Variable(nil), in.Queue...),
			CurrentParameterIndex:   0,
			CurrentRoundIndex:       1,
			GlobalBestFormula:       in.Formula.Clone(),
			PerParameterBestFormula: make(map[string]domain.Formula),
		},
		status:    domain.RunRunning,
		startedAt: c.opts.Now(),
	}
}

// run drives the state machine from Idle back to Idle.
func (s *session) run(ctx context.Context) {
	if !s.captureBaseline(ctx) {
		s.finalize()
		return
	}

	st := stateStartingVariable
	for st != stateIdle {
		s.log.Debug().Str("state", st.String()).
			Int("variable_index", s.state.CurrentParameterIndex).
			Int("round", s.state.CurrentRoundIndex).
			Msg("transition")
		st = s.step(ctx, st)
	}
}

func (s *session) step(ctx context.Context, st state) state {
	switch st {
	case stateStartingVariable:
		return s.startVariable()
	case stateRunningRound:
		if s.c.cancelled(ctx) {
			s.stop(fmt.Errorf("%w: before round", ErrCancelled))
			return stateFinalizing
		}
		s.round = s.runRound(ctx)
		if s.err != nil {
			return stateFinalizing
		}
		return stateDeciding
	case stateDeciding:
		return s.decide()
	case stateAdvancingRound:
		s.state.CurrentRoundIndex++
		return stateRunningRound
	case stateBacktracking:
		s.endVariable()
		return stateAdvancingVariable
	case stateAdvancingVariable:
		s.state.CurrentParameterIndex++
		s.state.CurrentRoundIndex = 1
		s.cur = nil
		if s.state.CurrentParameterIndex >= len(s.state.ParameterQueue) {
			return stateFinalizing
		}
		if s.c.cancelled(ctx) {
			s.stop(fmt.Errorf("%w: before variable", ErrCancelled))
			return stateFinalizing
		}
		return stateStartingVariable
	case stateFinalizing:
		s.finalize()
		return stateIdle
	}
	return stateIdle
}

// captureBaseline loads the initial statistics snapshot. It reports false when
// the search cannot start.
func (s *session) captureBaseline(ctx context.Context) bool {
	if s.c.opts.Statistics == nil {
		s.running = domain.Snapshot{Stats: make(map[string]domain.VariableStats)}
		for _, v := range s.in.Queue {
			s.running.Stats[v.Name] = domain.VariableStats{
				Min: v.Min, Max: v.Max, MedianPositive: v.MedianPositive, MedianNegative: v.MedianNegative,
			}
		}
		return true
	}

	snap, err := s.c.opts.Statistics.Baseline(ctx, s.in.Formula)
	if err != nil {
		if term := classify(err); term != nil {
			s.stop(term)
		} else {
			s.stop(fmt.Errorf("%w: %w: baseline statistics: %v", ErrAborted, evaluator.ErrInfrastructure, err))
		}
		return false
	}
	if snap.Stats == nil {
		snap.Stats = make(map[string]domain.VariableStats)
	}
	s.running = snap
	s.state.GlobalBestScore = copyFloat(snap.Score)
	if snap.Score != nil {
		s.c.opts.Metrics.SetBestScore(*snap.Score)
	}
	return true
}

// startVariable captures the variable's own baseline and decides between
// running round 1 and skipping.
func (s *session) startVariable() state {
	v := s.state.ParameterQueue[s.state.CurrentParameterIndex]
	baseline := s.running.Clone()
	if st, ok := baseline.Stats[v.Name]; ok && (st.Min != nil || st.Max != nil) {
		v = v.WithStatistics(st)
	}

	s.cur = &variableProgress{
		variable:  v,
		baseline:  baseline,
		next:      v,
		prevScore: copyFloat(baseline.Score),
	}

	if !v.HasStatistics() {
		s.cur.skipped = true
		s.log.Info().Str("variable", v.Name).Msg("no baseline statistics, skipping variable")
		return stateBacktracking
	}

	s.log.Info().
		Str("variable", v.Name).
		Int("position", s.state.CurrentParameterIndex).
		Float64("min", *v.Min).
		Float64("max", *v.Max).
		Msg("refining variable")
	return stateRunningRound
}

// decide compares the round's best against the previous best and picks the
// next transition.
func (s *session) decide() state {
	r := &s.round
	p := s.cur
	p.roundsRun++

	if r.err != nil {
		p.lastErr = r.err
		r.record.Err = r.err.Error()
		s.log.Warn().Err(r.err).
			Str("variable", p.variable.Name).
			Int("round", s.state.CurrentRoundIndex).
			Msg("round failed, treating as not improved")
	}

	if len(r.top) > 0 {
		best := r.top[0]
		r.record.BestScore = domain.Float(best.Score)
		if b, ok := best.Result.Formula.Bound(p.variable.Name); ok {
			r.record.BestBound = &b
		}
		r.record.Improved = improved(best.Score, p.prevScore)
	}
	r.record.PrevScore = copyFloat(p.prevScore)

	if !r.record.Improved {
		outcome := "not_improved"
		if r.err != nil {
			outcome = "error"
		}
		s.recordRound(r, outcome)
		return stateBacktracking
	}

	s.applyImprovement(r.top[0])
	s.recordRound(r, "improved")

	if s.state.CurrentRoundIndex < domain.RoundsPerVariable {
		return stateAdvancingRound
	}
	return stateBacktracking
}

// improved compares at 2-decimal precision; ties count as improved.
func improved(score float64, prev *float64) bool {
	if prev == nil {
		return true
	}
	return bounds.Round2(score) >= bounds.Round2(*prev)
}

// applyImprovement moves the running statistics, the global best and the
// variable's baseline for the next round to the round's best result.
func (s *session) applyImprovement(best domain.RankedResult) {
	p := s.cur
	name := p.variable.Name
	res := best.Result

	for k, v := range res.VariableStats {
		s.running.Stats[k] = v
	}
	s.running.Score = domain.Float(best.Score)

	formula := res.Formula.Clone()
	s.state.GlobalBestFormula = formula
	s.state.GlobalBestScore = domain.Float(best.Score)
	s.state.PerParameterBestFormula[name] = formula.Clone()
	s.c.opts.Metrics.SetBestScore(best.Score)

	p.improved = true
	p.prevScore = domain.Float(best.Score)
	p.bestScore = domain.Float(best.Score)
	p.bestFormula = &formula

	bound, hasBound := formula.Bound(name)
	if hasBound {
		p.bestBound = &bound
	}

	next := p.variable
	if st, ok := res.VariableStats[name]; ok && st.Min != nil && st.Max != nil {
		next = next.WithStatistics(st)
	} else if hasBound {
		next.Min, next.Max = domain.Float(bound.Lower), domain.Float(bound.Upper)
	}
	p.next = next
}

func (s *session) recordRound(r *roundResult, outcome string) {
	r.record.CompletedAt = s.c.opts.Now()
	s.rounds = append(s.rounds, r.record)
	s.c.opts.Metrics.RecordRound(outcome)

	ev := s.log.Info().
		Str("variable", r.record.Variable).
		Int("round", r.record.RoundIndex).
		Int("divisor", r.record.StepDivisor).
		Int("jobs", r.record.JobCount).
		Bool("improved", r.record.Improved)
	if r.record.BestScore != nil {
		ev = ev.Float64("best_score", *r.record.BestScore)
	}
	ev.Msg("round complete")

	if h := s.c.opts.Hooks.OnRoundComplete; h != nil {
		h(r.record)
	}
}

// endVariable records the variable's outcome. A variable that never improved
// has its condition removed from the carried formula.
func (s *session) endVariable() {
	p := s.cur
	out := domain.VariableOutcome{
		RunID:     s.in.RunID,
		Variable:  p.variable.Name,
		Position:  s.state.CurrentParameterIndex,
		RoundsRun: p.roundsRun,
	}

	switch {
	case p.skipped:
		out.Status = domain.VariableSkipped
		out.Message = "no baseline statistics"
	case p.improved:
		out.Status = domain.VariableImproved
		out.BestBound = p.bestBound
		out.BestScore = copyFloat(p.bestScore)
		out.BestFormula = p.bestFormula
		out.Message = "best condition found"
		if p.bestBound != nil {
			out.Message = fmt.Sprintf("best condition found: %s", domain.Condition{Variable: p.variable.Name, Bound: *p.bestBound}.Text())
		}
	default:
		out.Status = domain.VariableNoImprovement
		out.Message = "no better condition found"
		if p.lastErr != nil {
			out.Message += ": " + p.lastErr.Error()
		}
		if _, had := s.state.GlobalBestFormula.Bound(p.variable.Name); had {
			s.state.GlobalBestFormula = s.state.GlobalBestFormula.Without(p.variable.Name)
			s.log.Info().Str("variable", p.variable.Name).Msg("condition removed from carried formula")
		}
	}

	s.outcomes = append(s.outcomes, out)
	s.c.opts.Metrics.RecordVariable(string(out.Status))
	if h := s.c.opts.Hooks.OnVariableComplete; h != nil {
		h(out)
	}
}

// interruptVariable records the variable that was in progress when the search
// stopped. The carried formula is left as is.
func (s *session) interruptVariable() {
	p := s.cur
	s.cur = nil
	out := domain.VariableOutcome{
		RunID:     s.in.RunID,
		Variable:  p.variable.Name,
		Position:  s.state.CurrentParameterIndex,
		Status:    domain.VariableNoImprovement,
		RoundsRun: p.roundsRun,
		Message:   "interrupted: " + s.err.Error(),
	}
	if p.improved {
		out.Status = domain.VariableImproved
		out.BestBound = p.bestBound
		out.BestScore = copyFloat(p.bestScore)
		out.BestFormula = p.bestFormula
	}
	s.outcomes = append(s.outcomes, out)
	s.c.opts.Metrics.RecordVariable(string(out.Status))
	if h := s.c.opts.Hooks.OnVariableComplete; h != nil {
		h(out)
	}
}

// stop records a terminal error.
func (s *session) stop(err error) {
	if s.err != nil {
		return
	}
	s.err = err
	if errors.Is(err, ErrCancelled) {
		s.status = domain.RunCancelled
		s.log.Info().Err(err).Msg("search cancelled")
		return
	}
	s.status = domain.RunAborted
	s.log.Error().Err(err).Msg("search aborted")
}

// finalize merges every round's top list and surfaces the global best to the tracker.
func (s *session) finalize() {
	if s.status == domain.RunRunning {
		s.status = domain.RunCompleted
	}
	if s.cur != nil && s.err != nil {
		s.interruptVariable()
	}

	top := scoring.Merge(s.roundTops...)
	if len(top) > 0 && s.c.opts.Tracker != nil {
		anyImproved := false
		for _, o := range s.outcomes {
			if o.Status == domain.VariableImproved {
				anyImproved = true
				break
			}
		}
		d := s.c.opts.Tracker.Consider(top[0].Score, anyImproved)
		s.promoted = d.Promoted
		if d.Promoted {
			s.c.opts.Metrics.RecordPromotion()
		}
		s.log.Info().
			Float64("candidate", d.Candidate).
			Bool("promoted", d.Promoted).
			Msg("best value considered")
	}
	s.top = top
}

func (s *session) outcome() *domain.SearchOutcome {
	out := &domain.SearchOutcome{
		RunID:       s.in.RunID,
		Status:      s.status,
		StartedAt:   s.startedAt,
		CompletedAt: s.c.opts.Now(),
		Initial:     s.in.Formula.Clone(),
		BestFormula: s.state.GlobalBestFormula.Clone(),
		BestScore:   copyFloat(s.state.GlobalBestScore),
		Top:         s.top,
		Variables:   s.outcomes,
		Rounds:      s.rounds,
		JobsRun:     s.jobsRun,
		Promoted:    s.promoted,
	}
	if t := s.c.opts.Tracker; t != nil {
		out.LastBest = t.LastBest()
		out.LockedBest = t.LockedBest()
	}
	if s.err != nil {
		out.AbortReason = s.err.Error()
	}
	return out
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
