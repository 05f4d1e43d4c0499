// Package sampler drives the adaptive construction of an HDMR surrogate.
// Each round ranks the admissible candidate terms by their estimated
// variance contribution, evaluates the model at the points the chosen terms
// need, refits the affected components and decides whether the surrogate
// has converged:
//
//	Init -> Propose -> AwaitEvaluation -> Incorporate -> CheckConvergence
//	          ^                                             |
//	          +---------------------------------------------+--> Done | Failed
//
// A round commits all of its changes or none of them.  Model failures and
// cancellation abort the round and leave the sampler in Propose so the
// caller can retry; structural failures put it in Failed.
package sampler

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rwcarlsen/hdmr"
	"github.com/rwcarlsen/hdmr/component"
	"github.com/rwcarlsen/hdmr/dist"
	"github.com/rwcarlsen/hdmr/index"
	"github.com/rwcarlsen/hdmr/surrogate"
	"github.com/rwcarlsen/hdmr/trace"
)

type Sampler struct {
	cfg       Config
	space     *dist.Space
	model     hdmr.Model
	ev        hdmr.Evaler
	log       *slog.Logger
	sinks     []trace.Sink
	sink      trace.Sink
	metrics   *Metrics
	runID     string
	verbosity trace.Verbosity

	state State
	set   *index.Set
	pool  *component.Pool
	sur   *surrogate.HDMR
	// spare holds responses evaluated in rounds that were later aborted.
	spare   map[[sha1.Size]byte][]float64
	surplus map[string][]float64
	conv    ConvergenceState
	cursor  int
	niter   int
	neval   int
	err     error
}

func New(space *dist.Space, model hdmr.Model, cfg Config, opts ...Option) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, ErrNoModel
	}
	if space == nil || space.Len() == 0 {
		return nil, ErrNoVars
	}
	v, err := trace.ParseVerbosity(cfg.SubsetVerbosity)
	if err != nil {
		return nil, err
	}
	set, err := index.NewSet(space.Len(), cfg.MaxSobolOrder, cfg.PolynomialOrder)
	if err != nil {
		return nil, err
	}

	s := &Sampler{
		cfg:       cfg,
		space:     space,
		model:     model,
		verbosity: v,
		state:     Init,
		set:       set,
		pool:      component.NewPool(space.Anchor()),
		spare:     map[[sha1.Size]byte][]float64{},
		surplus:   map[string][]float64{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ev == nil {
		s.ev = hdmr.ParallelEvaler{MaxGoroutines: cfg.BatchSize}
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	s.log = s.log.With("run", s.runID)
	if cfg.LogFile != "" {
		ts, err := trace.OpenText(cfg.LogFile, v)
		if err != nil {
			return nil, err
		}
		s.sinks = append(s.sinks, ts)
	}
	s.sink = trace.Multi(s.sinks...)
	return s, nil
}

func (s *Sampler) RunID() string                 { return s.runID }
func (s *Sampler) State() State                  { return s.state }
func (s *Sampler) Niter() int                    { return s.niter }
func (s *Sampler) Neval() int                    { return s.neval }
func (s *Sampler) Surrogate() *surrogate.HDMR    { return s.sur }
func (s *Sampler) Pool() *component.Pool         { return s.pool }
func (s *Sampler) Convergence() ConvergenceState { return s.conv }

// Err returns the error of the last step, if any.
func (s *Sampler) Err() error { return s.err }

// Close closes the trace sinks.
func (s *Sampler) Close() error { return s.sink.Close() }

// Next runs one round and reports whether another round should follow.
func (s *Sampler) Next(ctx context.Context) bool {
	if s.state == Done || s.state == Failed {
		return false
	}
	if err := s.Step(ctx); err != nil {
		s.err = err
		return false
	}
	return s.state != Done
}

// Run steps until the run is done or a step fails.  Failing to converge
// within the budget is reported by Result.Converged, not as an error.
func (s *Sampler) Run(ctx context.Context) (*Result, error) {
	for s.Next(ctx) {
	}
	if s.state != Done {
		return nil, s.err
	}
	return s.Result(), nil
}

// Result describes the current surrogate and convergence state.
func (s *Sampler) Result() *Result {
	r := &Result{
		RunID:       s.runID,
		Converged:   s.conv.Verdict == Converged,
		Rounds:      s.niter,
		Samples:     s.neval,
		Surrogate:   s.sur,
		Convergence: s.conv,
	}
	if s.conv.Verdict == NotMet {
		r.Warning = s.conv.Reason
	}
	if s.sur != nil {
		r.Indices = s.sur.SensitivityIndices()
	}
	return r
}

// Step runs one adaptive round.  The first step also evaluates the anchor
// point and fits the constant term.
func (s *Sampler) Step(ctx context.Context) error {
	switch s.state {
	case Done:
		return ErrFinished
	case Failed:
		return s.err
	case Init:
		if err := s.init(ctx); err != nil {
			return err
		}
	}
	s.err = nil
	return s.round(ctx)
}

// Activate adds the whole tensor block of subset u up to the given degrees
// outside of the normal frontier refinement.  Only the corner point of the
// block is requested up front; the lower points are evaluated when the
// affected components report missing samples.
func (s *Sampler) Activate(ctx context.Context, u index.Subset, degrees []int) error {
	switch s.state {
	case Done:
		return ErrFinished
	case Failed:
		return s.err
	case Init:
		if err := s.init(ctx); err != nil {
			return err
		}
	}
	if len(u) != len(degrees) {
		return fmt.Errorf("sampler: %d degrees for subset %v", len(degrees), u)
	}
	target := index.Zero(s.space.Len())
	for i, v := range u {
		if v < 0 || v >= s.space.Len() || degrees[i] < 1 {
			return fmt.Errorf("sampler: invalid block %v degrees %v", u, degrees)
		}
		target[v] = degrees[i]
	}
	ks, err := s.set.Closure(target)
	if err != nil {
		return err
	}
	if len(ks) == 0 {
		return nil
	}

	round := s.niter + 1
	rctx, cancel := s.roundContext(ctx)
	defer cancel()

	var xs [][]float64
	if corner := s.space.Point(target); !s.pool.Has(corner) {
		xs = append(xs, corner)
	}
	s.setState(AwaitEvaluation)
	samples, err := s.evaluate(rctx, round, xs)
	if err != nil {
		return s.abort(round, err)
	}
	s.setState(Incorporate)
	st, err := s.incorporate(rctx, round, ks, samples)
	if err != nil {
		if retryable(err) {
			return s.abort(round, err)
		}
		return s.fatal(round, err)
	}
	s.commit(st, ks, 0)
	s.estimate()
	s.log.Info("activated block", "subset", u.Names(s.space.Names()), "degrees", degrees, "indices", len(ks))
	s.setState(Propose)
	return nil
}

func (s *Sampler) setState(st State) {
	if st != s.state {
		s.log.Debug("state transition", "from", s.state, "to", st, "round", s.niter+1)
	}
	s.state = st
}

func (s *Sampler) roundContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RoundTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.RoundTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Sampler) init(ctx context.Context) error {
	rctx, cancel := s.roundContext(ctx)
	defer cancel()

	k0 := index.Zero(s.space.Len())
	set := s.set.Clone()
	if err := set.Add(k0); err != nil {
		return s.fatal(0, err)
	}
	samples, err := s.evaluate(rctx, 0, [][]float64{s.space.Anchor()})
	if err != nil {
		return s.abort(0, err)
	}
	pool := s.pool.Clone()
	for _, smp := range samples {
		pool.Add(smp)
	}
	sur, err := surrogate.Build(s.space, set, pool, s.cfg.Outputs)
	if err != nil {
		return s.fatal(0, err)
	}
	s.commit(&stage{set: set, pool: pool, sur: sur}, []index.MultiIndex{k0}, 0)
	s.estimate()
	s.log.Debug("anchor evaluated", "x", s.space.Anchor(), "mean", sur.Mean())
	s.setState(Propose)
	return nil
}

func (s *Sampler) round(ctx context.Context) error {
	start := time.Now()
	round := s.niter + 1
	s.setState(Propose)
	if s.cfg.MaxSamples > 0 && s.neval >= s.cfg.MaxSamples {
		s.finish(round, NotMet, ReasonSamples)
		return nil
	}
	frontier := s.set.Candidates()
	if len(frontier) == 0 {
		s.setState(CheckConvergence)
		s.check(round, time.Since(start))
		return nil
	}
	selected, advance := s.propose(frontier)
	return s.advance(ctx, start, round, selected, advance)
}

// advance evaluates, incorporates and checks the selected candidates.
func (s *Sampler) advance(ctx context.Context, start time.Time, round int, selected []index.MultiIndex, cursorAdvance int) error {
	rctx, cancel := s.roundContext(ctx)
	defer cancel()

	var xs [][]float64
	for _, k := range selected {
		if x := s.space.Point(k); !s.pool.Has(x) {
			xs = append(xs, x)
		}
	}
	s.setState(AwaitEvaluation)
	samples, err := s.evaluate(rctx, round, xs)
	if err != nil {
		return s.abort(round, err)
	}

	s.setState(Incorporate)
	st, err := s.incorporate(rctx, round, selected, samples)
	if err != nil {
		if retryable(err) {
			return s.abort(round, err)
		}
		return s.fatal(round, err)
	}
	s.commit(st, selected, cursorAdvance)
	s.niter++

	s.setState(CheckConvergence)
	s.check(round, time.Since(start))
	return nil
}

// propose ranks the frontier and selects the candidates of this round.  It
// also returns how many unestimated candidates were selected, which
// advances the rotation cursor once the round commits.
func (s *Sampler) propose(frontier []index.MultiIndex) (selected []index.MultiIndex, unestimated int) {
	if len(frontier) == 0 {
		return nil, 0
	}
	total := s.sur.TotalVariance()
	rel := make(map[string]float64, len(frontier))
	for _, k := range frontier {
		rel[k.Key()] = relative(estimate(k, s.surplus, s.cfg.Outputs), total)
	}

	n := max(1, int(math.Ceil(s.cfg.ProgressParam*float64(len(frontier)))))
	budget := -1
	if s.cfg.MaxSamples > 0 {
		budget = s.cfg.MaxSamples - s.neval
	}
	submitted := map[[sha1.Size]byte]bool{}
	for _, c := range rank(frontier, rel, s.cursor) {
		if len(selected) == n {
			break
		}
		x := s.space.Point(c.k)
		h := hdmr.Hash(x)
		_, spared := s.spare[h]
		need := !s.pool.Has(x) && !spared && !submitted[h]
		if need && budget >= 0 && len(submitted)+1 > budget {
			break
		}
		if need {
			submitted[h] = true
		}
		selected = append(selected, c.k)
		if math.IsInf(c.rel, 1) {
			unestimated++
		}
	}
	s.log.Debug("proposed", "frontier", len(frontier), "selected", keys(selected))
	return selected, unestimated
}

// evaluate returns samples for xs.  Positions are deduplicated and responses
// left over from aborted rounds are reused.
func (s *Sampler) evaluate(ctx context.Context, round int, xs [][]float64) ([]component.Sample, error) {
	var points []hdmr.Point
	queued := map[[sha1.Size]byte]bool{}
	for _, x := range xs {
		h := hdmr.Hash(x)
		if _, ok := s.spare[h]; ok || queued[h] {
			continue
		}
		queued[h] = true
		points = append(points, hdmr.NewPoint(x))
	}

	if len(points) > 0 {
		results, err := s.ev.Eval(ctx, s.model, points...)
		var failures []hdmr.PointError
		var mee *hdmr.ModelEvaluationError
		if errors.As(err, &mee) {
			failures = mee.Failures
		} else if err != nil {
			return nil, err
		}
		n := 0
		for i, p := range results {
			if p.Val == nil {
				continue
			}
			if len(p.Val) != s.cfg.Outputs {
				failures = append(failures, hdmr.PointError{
					Index: i,
					X:     p.Pos(),
					Err:   fmt.Errorf("model returned %d outputs, want %d", len(p.Val), s.cfg.Outputs),
				})
				continue
			}
			s.spare[p.Hash()] = p.Val
			n++
		}
		s.neval += n
		s.metrics.evaluated(n)
		if len(failures) > 0 {
			return nil, &hdmr.ModelEvaluationError{Round: round, Failures: failures}
		}
	}

	samples := make([]component.Sample, 0, len(xs))
	for _, x := range xs {
		samples = append(samples, component.Sample{X: x, Y: s.spare[hdmr.Hash(x)]})
	}
	return samples, nil
}

type stage struct {
	set  *index.Set
	pool *component.Pool
	sur  *surrogate.HDMR
}

// incorporate adds ks to a copy of the index set and refits the surrogate.
// Missing samples are requested up to RetryCap times.
func (s *Sampler) incorporate(ctx context.Context, round int, ks []index.MultiIndex, samples []component.Sample) (*stage, error) {
	st := &stage{set: s.set.Clone(), pool: s.pool.Clone()}
	for _, k := range ks {
		if err := st.set.Add(k); err != nil {
			return nil, err
		}
	}
	for _, smp := range samples {
		st.pool.Add(smp)
	}

	for retry := 0; ; retry++ {
		sur, err := s.sur.Refit(st.set, st.pool)
		if err == nil {
			st.sur = sur
			return st, nil
		}

		var ie *component.InsufficientSamplesError
		var se *component.SingularFitError
		switch {
		case errors.As(err, &ie):
			s.event(round, trace.EventInsufficientSamples, ie.Subset, ie.Degrees, err.Error())
			s.metrics.failed(trace.EventInsufficientSamples)
			var missing [][]float64
			for _, k := range st.set.Active() {
				if x := s.space.Point(k); !st.pool.Has(x) {
					missing = append(missing, x)
				}
			}
			if len(missing) == 0 {
				return nil, &ConvergenceFailure{Round: round, State: s.state, Subset: ie.Subset, Degrees: ie.Degrees, Reason: "no samples left to request", Err: err}
			}
			if retry >= s.cfg.RetryCap {
				return nil, &ConvergenceFailure{Round: round, State: s.state, Subset: ie.Subset, Degrees: ie.Degrees, Reason: fmt.Sprintf("retry cap %d exceeded", s.cfg.RetryCap), Err: err}
			}
			s.log.Warn("insufficient samples", "round", round, "subset", ie.Subset.Names(s.space.Names()), "have", ie.Have, "need", ie.Need, "requesting", len(missing))
			more, err := s.evaluate(ctx, round, missing)
			if err != nil {
				return nil, err
			}
			for _, smp := range more {
				st.pool.Add(smp)
			}
		case errors.As(err, &se):
			s.event(round, trace.EventSingularFit, se.Subset, se.Degrees, err.Error())
			return nil, &ConvergenceFailure{Round: round, State: s.state, Subset: se.Subset, Degrees: se.Degrees, Reason: "singular fit", Err: err}
		default:
			return nil, err
		}
	}
}

func (s *Sampler) commit(st *stage, added []index.MultiIndex, cursorAdvance int) {
	s.set, s.pool, s.sur = st.set, st.pool, st.sur
	total := s.sur.TotalVariance()
	roundRel := 0.0
	for _, k := range added {
		c := s.sur.Coefficient(k)
		sq := make([]float64, len(c))
		for o, v := range c {
			sq[o] = v * v
		}
		s.surplus[k.Key()] = sq
		if !k.IsZero() {
			roundRel = math.Max(roundRel, relative(sq, total))
		}
	}
	if len(added) > 0 {
		s.conv.RoundRelative = roundRel
	}
	s.cursor += cursorAdvance
	// responses not used by this commit stay available to later rounds
	for h := range s.spare {
		if s.pool.HasHash(h) {
			delete(s.spare, h)
		}
	}
}

// estimate refreshes the frontier estimates of the convergence state and
// returns the frontier.
func (s *Sampler) estimate() []index.MultiIndex {
	total := s.sur.TotalVariance()
	frontier := s.set.Candidates()
	s.conv.Estimates = make(map[string][]float64, len(frontier))
	s.conv.MaxRelative = 0
	for _, k := range frontier {
		e := estimate(k, s.surplus, s.cfg.Outputs)
		s.conv.Estimates[k.Key()] = e
		s.conv.MaxRelative = math.Max(s.conv.MaxRelative, relative(e, total))
	}
	s.conv.Surplus = make(map[string][]float64, len(s.surplus))
	for key, v := range s.surplus {
		s.conv.Surplus[key] = v
	}
	s.conv.Iteration = s.niter
	s.conv.Samples = s.neval
	return frontier
}

func (s *Sampler) check(round int, elapsed time.Duration) {
	frontier := s.estimate()
	tol := s.cfg.RelTolerance

	verdict, reason := Continue, ""
	switch {
	case len(frontier) > 0 && s.conv.MaxRelative < tol:
		verdict, reason = Converged, ReasonTolerance
	case len(frontier) == 0 && s.conv.RoundRelative < tol:
		verdict, reason = Converged, ReasonTolerance
	case len(frontier) == 0:
		verdict, reason = NotMet, ReasonNoCandidates
	case s.niter >= s.cfg.MaxRuns:
		verdict, reason = NotMet, ReasonBudget
	case s.cfg.MaxSamples > 0 && s.neval >= s.cfg.MaxSamples:
		verdict, reason = NotMet, ReasonSamples
	}

	total := s.sur.TotalVariance()
	s.metrics.round(elapsed.Seconds(), s.set.Len(), len(frontier), s.conv.MaxRelative, total)
	s.log.Info("round complete",
		"round", round,
		"active", s.set.Len(),
		"frontier", len(frontier),
		"samples", s.neval,
		"max_relative", s.conv.MaxRelative,
		"round_relative", s.conv.RoundRelative,
		"variance", total,
		"verdict", verdict,
	)

	if verdict == Continue {
		s.conv.Verdict = Continue
		s.record(round)
		s.setState(Propose)
		return
	}
	s.finish(round, verdict, reason)
}

func (s *Sampler) finish(round int, verdict Verdict, reason string) {
	s.conv.Verdict, s.conv.Reason = verdict, reason
	s.record(round)
	if verdict == NotMet {
		s.log.Warn("convergence not met", "reason", reason, "rounds", s.niter, "samples", s.neval)
		s.event(round, trace.EventWarning, nil, nil, reason)
	}
	s.setState(Done)
}

func (s *Sampler) record(round int) {
	names := s.space.Names()
	r := trace.Record{
		Run:     s.runID,
		Round:   round,
		State:   s.state.String(),
		Active:  s.set.Len(),
		Subsets: len(s.sur.Subsets()),
		Samples: s.neval,
		Max:     s.conv.MaxRelative,
		Total:   s.sur.TotalVariance(),
		Verdict: string(s.conv.Verdict),
	}
	ix := s.sur.SensitivityIndices()
	for i, u := range ix.Subsets {
		r.Indices = append(r.Indices, trace.Entry{Key: u.Names(names), Values: ix.Values[i]})
	}
	for _, k := range s.set.Candidates() {
		r.Frontier = append(r.Frontier, trace.Entry{Key: k.Key(), Values: s.conv.Estimates[k.Key()]})
	}
	if err := s.sink.Round(r); err != nil {
		s.log.Error("trace write failed", "error", err)
	}
}

func (s *Sampler) event(round int, kind string, u index.Subset, degrees []int, detail string) {
	e := trace.Event{
		Run:     s.runID,
		Round:   round,
		State:   s.state.String(),
		Kind:    kind,
		Degrees: degrees,
		Detail:  detail,
	}
	if u != nil {
		e.Subset = u.Names(s.space.Names())
	}
	if err := s.sink.Event(e); err != nil {
		s.log.Error("trace write failed", "error", err)
	}
}

func retryable(err error) bool {
	var mee *hdmr.ModelEvaluationError
	return errors.As(err, &mee) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// abort discards the round and returns to the state it started from.
func (s *Sampler) abort(round int, err error) error {
	kind := trace.EventModelError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = trace.EventCancelled
	}
	failed := s.state
	s.event(round, kind, nil, nil, err.Error())
	s.metrics.failed(kind)
	s.log.Warn("round aborted", "round", round, "state", failed, "error", err)
	if s.sur == nil {
		s.setState(Init)
	} else {
		s.setState(Propose)
	}
	return &StepError{Round: round, State: failed, Err: err}
}

func (s *Sampler) fatal(round int, err error) error {
	failed := s.state
	var ie *index.InadmissibleIndexError
	if errors.As(err, &ie) {
		s.log.Error("inadmissible index",
			"round", round,
			"index", ie.Index.Key(),
			"reason", ie.Reason,
			"active", keys(s.set.Active()),
			"frontier", keys(s.set.Candidates()),
		)
		s.event(round, trace.EventInadmissible, ie.Index.Support(), nil, err.Error())
	} else {
		s.log.Error("run failed", "round", round, "state", failed, "error", err)
		s.event(round, trace.EventFailure, nil, nil, err.Error())
	}
	s.metrics.failed(trace.EventFailure)
	s.err = &StepError{Round: round, State: failed, Err: err}
	s.setState(Failed)
	return s.err
}

func keys(ks []index.MultiIndex) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = k.Key()
	}
	return out
}
