package sampler

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rwcarlsen/hdmr"
	"github.com/rwcarlsen/hdmr/component"
	"github.com/rwcarlsen/hdmr/dist"
	"github.com/rwcarlsen/hdmr/index"
	"github.com/rwcarlsen/hdmr/surrogate"
	"github.com/rwcarlsen/hdmr/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformSpace(t *testing.T, n int) *dist.Space {
	s := dist.NewSpace()
	for i := 1; i <= n; i++ {
		require.NoError(t, s.Declare("x"+string(rune('0'+i)), dist.Uniform{Min: -1, Max: 1}))
	}
	return s
}

func linear2(x []float64) float64 { return 3 + 2*x[0] + x[0]*x[1] }

func config(poly int, progress float64) Config {
	cfg := DefaultConfig()
	cfg.PolynomialOrder = poly
	cfg.ProgressParam = progress
	return cfg
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.ProgressParam = 1.5
	cfg.MaxRuns = 0
	cfg.SubsetVerbosity = "loud"
	err := cfg.Validate()
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.ElementsMatch(t, []string{"ProgressParam", "MaxRuns", "SubsetVerbosity"}, ce.Fields)

	cfg = DefaultConfig()
	cfg.ProgressParam = 0
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.RelTolerance = -1
	assert.Error(t, cfg.Validate())

	// every degree needs its own abscissa
	cfg = DefaultConfig()
	cfg.PolynomialOrder = dist.MaxNodes
	require.ErrorAs(t, cfg.Validate(), &ce)
	assert.Equal(t, []string{"PolynomialOrder"}, ce.Fields)
	_, err = New(uniformSpace(t, 2), hdmr.Func(linear2), cfg)
	assert.ErrorAs(t, err, &ce)
	cfg.PolynomialOrder = dist.MaxNodes - 1
	assert.NoError(t, cfg.Validate())
}

func TestNewErrors(t *testing.T) {
	_, err := New(uniformSpace(t, 1), nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoModel)
	_, err = New(dist.NewSpace(), hdmr.Func(linear2), DefaultConfig())
	assert.ErrorIs(t, err, ErrNoVars)
}

func TestLinear2(t *testing.T) {
	space := uniformSpace(t, 2)
	model := hdmr.NewModelLogger(hdmr.Func(linear2), nil)
	mem := &trace.Memory{}
	s, err := New(space, model, config(3, 1), WithTrace(mem))
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Empty(t, res.Warning)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, Done, s.State())

	ix := res.Indices
	assert.InDelta(t, 12.0/13, ix.Of(index.NewSubset(0))[0], 1e-9)
	assert.InDelta(t, 0, ix.Of(index.NewSubset(1))[0], 1e-9)
	assert.InDelta(t, 1.0/13, ix.Of(index.NewSubset(0, 1))[0], 1e-9)
	assert.True(t, ix.Normalized(s.cfg.NormTolerance))
	assert.InDelta(t, 3, res.Surrogate.Mean()[0], 1e-12)
	assert.InDelta(t, 13.0/9, res.Surrogate.TotalVariance()[0], 1e-12)

	// one evaluation per active index and none repeated
	assert.Equal(t, 8, s.Surrogate().Set().Len())
	assert.Equal(t, 8, res.Samples)
	assert.Equal(t, 8, model.Count())

	g0 := res.Surrogate.Component(index.Subset{})
	assert.InDelta(t, 3, g0.Mean()[0], 1e-12)
	g1 := res.Surrogate.Component(index.NewSubset(0))
	assert.InDelta(t, 3+2*0.5, g1.Evaluate([]float64{0.5})[0], 1e-12)

	require.Len(t, mem.Records, 3)
	assert.Equal(t, string(Converged), mem.Records[2].Verdict)
	assert.Equal(t, string(Continue), mem.Records[0].Verdict)
	assert.Equal(t, ErrFinished, s.Step(context.Background()))
}

func TestPureInteraction(t *testing.T) {
	f := func(x []float64) float64 { return x[0] * x[1] }
	s, err := New(uniformSpace(t, 2), hdmr.Func(f), config(3, 1))
	require.NoError(t, err)

	// both main effects vanish, so the first round resolves no variance
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.Rounds)
	assert.True(t, s.Surrogate().Set().Contains(index.MultiIndex{1, 1}))
	assert.InDelta(t, 1.0/9, res.Surrogate.TotalVariance()[0], 1e-12)
	assert.InDelta(t, 1, res.Indices.Of(index.NewSubset(0, 1))[0], 1e-9)
	assert.InDelta(t, 0, res.Indices.Of(index.NewSubset(0))[0], 1e-9)
}

func TestConstantModel(t *testing.T) {
	s, err := New(uniformSpace(t, 1), hdmr.Func(func([]float64) float64 { return 5 }), config(3, 1))
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, ReasonNoCandidates, res.Warning)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, 0.0, res.Surrogate.TotalVariance()[0])
	assert.Equal(t, 0.0, res.Indices.Of(index.NewSubset(0))[0])
	assert.Equal(t, []float64{1}, res.Indices.Residual)
}

func TestParallelMatchesSerial(t *testing.T) {
	f := func(x []float64) float64 { return math.Sin(x[0]) + x[1]*x[1]*x[2] + 0.5*x[2] }
	var calls atomic.Int64
	// later submissions of a batch finish first
	reversed := modelFunc(func(_ context.Context, x []float64) ([]float64, error) {
		n := calls.Add(1)
		time.Sleep(time.Duration(4-n%4) * time.Millisecond)
		return []float64{f(x)}, nil
	})

	run := func(ev hdmr.Evaler, m hdmr.Model) (*Sampler, *Result) {
		s, err := New(uniformSpace(t, 3), m, config(4, 0.5), WithEvaler(ev))
		require.NoError(t, err)
		res, err := s.Run(context.Background())
		require.NoError(t, err)
		return s, res
	}
	serial, sres := run(hdmr.SerialEvaler{}, hdmr.Func(f))
	parallel, pres := run(hdmr.ParallelEvaler{MaxGoroutines: 4}, reversed)

	active := serial.Surrogate().Set().Active()
	require.Equal(t, keys(active), keys(parallel.Surrogate().Set().Active()))
	for _, k := range active {
		assert.Equal(t, serial.Surrogate().Coefficient(k), parallel.Surrogate().Coefficient(k), k.String())
	}
	assert.Equal(t, sres.Indices, pres.Indices)
	assert.Equal(t, sres.Rounds, pres.Rounds)
	assert.Equal(t, sres.Samples, pres.Samples)
}

func TestRebuildMatchesIncremental(t *testing.T) {
	s, err := New(uniformSpace(t, 3), hdmr.Func(func(x []float64) float64 {
		return math.Sin(x[0]) + x[1]*x[1]*x[2] + 0.5*x[2]
	}), config(4, 0.5))
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	scratch, err := surrogate.Build(s.space, s.Surrogate().Set(), s.Pool(), 1)
	require.NoError(t, err)
	for _, k := range s.Surrogate().Set().Active() {
		assert.Equal(t, scratch.Coefficient(k), s.Surrogate().Coefficient(k), k.String())
	}
}

func TestBudgetExhausted(t *testing.T) {
	cfg := config(3, 1)
	cfg.MaxRuns = 1
	cfg.RelTolerance = 1e-12
	mem := &trace.Memory{}
	s, err := New(uniformSpace(t, 2), hdmr.Func(linear2), cfg, WithTrace(mem))
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, ReasonBudget, res.Warning)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, NotMet, res.Convergence.Verdict)
	require.Len(t, mem.EventsOf(trace.EventWarning), 1)
}

func TestSampleBudget(t *testing.T) {
	cfg := config(3, 1)
	cfg.MaxSamples = 4
	s, err := New(uniformSpace(t, 2), hdmr.Func(linear2), cfg)
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, ReasonSamples, res.Warning)
	assert.Equal(t, 4, res.Samples)
}

func TestNormalInputs(t *testing.T) {
	space := dist.NewSpace()
	require.NoError(t, space.Declare("x1", dist.Normal{Mu: 0, Sigma: 1}))
	require.NoError(t, space.Declare("x2", dist.Normal{Mu: 0, Sigma: 1}))
	f := func(x []float64) float64 { return 1 + 2*x[0] + 3*x[1]*x[1] }

	s, err := New(space, hdmr.Func(f), config(3, 1))
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 3, res.Rounds)
	assert.InDelta(t, 4.0/22, res.Indices.Of(index.NewSubset(0))[0], 1e-9)
	assert.InDelta(t, 18.0/22, res.Indices.Of(index.NewSubset(1))[0], 1e-9)
	assert.InDelta(t, 22, res.Surrogate.TotalVariance()[0], 1e-9)
}

func TestResidualMonotone(t *testing.T) {
	space := uniformSpace(t, 2)
	f := func(x []float64) float64 { return x[0] + x[1]*x[1]*x[1] }
	s, err := New(space, hdmr.Func(f), config(3, 1))
	require.NoError(t, err)

	xs := space.SampleN(rand.New(rand.NewPCG(1, 1)), 200)
	residual := func() float64 {
		sum := 0.0
		for _, x := range xs {
			d := s.Surrogate().Evaluate(x)[0] - f(x)
			sum += d * d
		}
		return math.Sqrt(sum / float64(len(xs)))
	}

	var rms []float64
	for s.State() != Done {
		require.NoError(t, s.Step(context.Background()))
		rms = append(rms, residual())
	}
	require.Greater(t, len(rms), 1)
	for i := 1; i < len(rms); i++ {
		assert.LessOrEqual(t, rms[i], rms[i-1]+1e-12, "round %d", i+1)
	}
	assert.Less(t, rms[len(rms)-1], 1e-8)
}

func TestActivateTopUp(t *testing.T) {
	mem := &trace.Memory{}
	model := hdmr.NewModelLogger(hdmr.Func(linear2), nil)
	s, err := New(uniformSpace(t, 2), model, config(5, 1), WithTrace(mem))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Step(ctx))
	before := s.Neval()
	require.Equal(t, 3, before)

	require.NoError(t, s.Activate(ctx, index.NewSubset(0, 1), []int{1, 2}))
	assert.Equal(t, 3, s.Neval()-before)
	assert.Equal(t, s.Neval(), model.Count())
	assert.True(t, s.Surrogate().Set().Contains(index.MultiIndex{1, 2}))
	assert.Equal(t, Propose, s.State())

	evs := mem.EventsOf(trace.EventInsufficientSamples)
	require.Len(t, evs, 1)
	assert.Equal(t, "x2", evs[0].Subset)
	assert.Equal(t, []int{2}, evs[0].Degrees)

	// already active
	require.NoError(t, s.Activate(ctx, index.NewSubset(0, 1), []int{1, 1}))
	assert.Error(t, s.Activate(ctx, index.NewSubset(0, 1), []int{2, 2}))
	assert.Equal(t, Propose, s.State())
}

func TestRetryCapExceeded(t *testing.T) {
	cfg := config(5, 1)
	cfg.RetryCap = 0
	s, err := New(uniformSpace(t, 2), hdmr.Func(linear2), cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Step(ctx))

	err = s.Activate(ctx, index.NewSubset(0, 1), []int{1, 2})
	var cf *ConvergenceFailure
	require.True(t, errors.As(err, &cf), "got %v", err)
	assert.Equal(t, index.Subset{1}, cf.Subset)
	assert.Equal(t, Failed, s.State())
	assert.Equal(t, err, s.Step(ctx))
	_, err = s.Run(ctx)
	assert.Error(t, err)
}

// flaky fails the first evaluation of every point off the anchor in x1.
type flaky struct {
	mu    sync.Mutex
	seen  map[float64]bool
	calls int
	// ok, if set, counts successful evaluations per position.
	ok map[[sha1.Size]byte]int
}

func (m *flaky) Evaluate(_ context.Context, x []float64) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if x[0] != 0 && !m.seen[x[0]] {
		m.seen[x[0]] = true
		return nil, errors.New("solver diverged")
	}
	if m.ok != nil {
		m.ok[hdmr.Hash(x)]++
	}
	return []float64{linear2(x)}, nil
}

func TestModelErrorRetry(t *testing.T) {
	model := &flaky{seen: map[float64]bool{}}
	mem := &trace.Memory{}
	s, err := New(uniformSpace(t, 2), model, config(3, 1),
		WithEvaler(hdmr.SerialEvaler{ContinueOnErr: true}), WithTrace(mem))
	require.NoError(t, err)
	ctx := context.Background()

	err = s.Step(ctx)
	var mee *hdmr.ModelEvaluationError
	require.True(t, errors.As(err, &mee), "got %v", err)
	assert.Equal(t, 1, mee.Round)
	require.Len(t, mee.Failures, 1)
	assert.NotEqual(t, 0.0, mee.Failures[0].X[0])
	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, AwaitEvaluation, se.State)

	// nothing committed
	assert.Equal(t, Propose, s.State())
	assert.Equal(t, 0, s.Niter())
	assert.Equal(t, 1, s.Surrogate().Set().Len())
	assert.Equal(t, 1, s.Pool().Len())
	assert.Len(t, mem.EventsOf(trace.EventModelError), 1)

	require.NoError(t, s.Step(ctx))
	assert.Equal(t, 1, s.Niter())
	assert.Equal(t, 3, s.Surrogate().Set().Len())
	// the point that succeeded in the aborted round is not evaluated again
	assert.Equal(t, 4, model.calls)
	assert.Equal(t, 3, s.Neval())
}

func TestAbortedResponsesSurviveActivate(t *testing.T) {
	model := &flaky{seen: map[float64]bool{}, ok: map[[sha1.Size]byte]int{}}
	s, err := New(uniformSpace(t, 3), model, config(3, 1),
		WithEvaler(hdmr.SerialEvaler{ContinueOnErr: true}))
	require.NoError(t, err)
	ctx := context.Background()

	// the x1 point fails; the x2 and x3 points are kept for later
	require.Error(t, s.Step(ctx))
	require.Equal(t, 3, s.Neval())

	// uses the x2 point only
	require.NoError(t, s.Activate(ctx, index.NewSubset(1), []int{1}))
	assert.Equal(t, 3, s.Neval())

	require.NoError(t, s.Step(ctx))
	assert.True(t, s.Surrogate().Set().Contains(index.MultiIndex{0, 0, 1}))
	for h, n := range model.ok {
		assert.Equal(t, 1, n, "%x evaluated %d times", h, n)
	}
	assert.Len(t, model.ok, s.Neval())
	assert.Equal(t, s.Neval(), s.Pool().Len())
}

func TestCancelled(t *testing.T) {
	mem := &trace.Memory{}
	s, err := New(uniformSpace(t, 2), hdmr.Func(linear2), config(3, 1), WithTrace(mem))
	require.NoError(t, err)
	require.NoError(t, s.Step(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Propose, s.State())
	assert.Equal(t, 1, s.Niter())
	assert.Len(t, mem.EventsOf(trace.EventCancelled), 1)

	require.NoError(t, s.Step(context.Background()))
	assert.Equal(t, 2, s.Niter())
}

func TestRoundTimeout(t *testing.T) {
	cfg := config(3, 1)
	cfg.RoundTimeout = 20 * time.Millisecond
	slow := hdmr.VecFunc(func(x []float64) []float64 { return []float64{linear2(x)} })
	model := modelFunc(func(ctx context.Context, x []float64) ([]float64, error) {
		if x[0] != 0 || x[1] != 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
		return slow(x), nil
	})
	s, err := New(uniformSpace(t, 2), model, cfg)
	require.NoError(t, err)
	err = s.Step(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Propose, s.State())
}

type modelFunc func(ctx context.Context, x []float64) ([]float64, error)

func (f modelFunc) Evaluate(ctx context.Context, x []float64) ([]float64, error) { return f(ctx, x) }

func TestOutputMismatch(t *testing.T) {
	cfg := config(3, 1)
	cfg.Outputs = 2
	s, err := New(uniformSpace(t, 2), hdmr.Func(linear2), cfg)
	require.NoError(t, err)
	err = s.Step(context.Background())
	var mee *hdmr.ModelEvaluationError
	require.True(t, errors.As(err, &mee))
	assert.Equal(t, Init, s.State())
}

func TestMultiOutput(t *testing.T) {
	cfg := config(3, 1)
	cfg.Outputs = 2
	f := hdmr.VecFunc(func(x []float64) []float64 { return []float64{linear2(x), x[1]} })
	s, err := New(uniformSpace(t, 2), f, cfg)
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	s1 := res.Indices.Of(index.NewSubset(1))
	assert.InDelta(t, 0, s1[0], 1e-9)
	assert.InDelta(t, 1, s1[1], 1e-9)
}

func TestInadmissibleIsFatal(t *testing.T) {
	var logbuf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logbuf, nil))
	s, err := New(uniformSpace(t, 2), hdmr.Func(linear2), config(3, 1), WithLogger(log))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Step(ctx))

	err = s.advance(ctx, time.Now(), 2, []index.MultiIndex{{2, 2}}, 0)
	var ie *index.InadmissibleIndexError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, Failed, s.State())
	assert.Equal(t, err, s.Step(ctx))
	assert.Contains(t, logbuf.String(), "inadmissible index")
	assert.Contains(t, logbuf.String(), "frontier=")
}

func TestTraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdmr.trace")
	cfg := config(3, 1)
	cfg.LogFile = path
	cfg.SubsetVerbosity = "all"
	s, err := New(uniformSpace(t, 2), hdmr.Func(linear2), cfg, WithRunID("run-1"))
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []map[string]string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields, err := trace.Fields(sc.Text())
		require.NoError(t, err)
		lines = append(lines, fields)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "run-1", lines[0]["run"])
	assert.Equal(t, "1", lines[0]["round"])
	assert.Contains(t, lines[0], "F[1,1]")
	assert.Contains(t, lines[2], "S[x1,x2]")
	assert.Equal(t, "converged", lines[2]["verdict"])
	assert.True(t, strings.HasPrefix(lines[2]["S[x1]"], "0.923"))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s, err := New(uniformSpace(t, 2), hdmr.Func(linear2), config(3, 1), WithMetrics(m))
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rounds))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.evaluations))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.active))
}

func TestRankRotation(t *testing.T) {
	frontier := []index.MultiIndex{{0, 0, 1}, {0, 1, 0}, {1, 0, 0}, {1, 1, 0}}
	rel := map[string]float64{"0,0,1": math.Inf(1), "0,1,0": math.Inf(1), "1,0,0": math.Inf(1), "1,1,0": 0.5}

	order := func(cursor int) []string {
		var keys []string
		for _, c := range rank(frontier, rel, cursor) {
			keys = append(keys, c.key)
		}
		return keys
	}
	assert.Equal(t, []string{"0,0,1", "0,1,0", "1,0,0", "1,1,0"}, order(0))
	assert.Equal(t, []string{"0,1,0", "1,0,0", "0,0,1", "1,1,0"}, order(1))
	assert.Equal(t, []string{"1,0,0", "0,0,1", "0,1,0", "1,1,0"}, order(5))
}

func TestEstimate(t *testing.T) {
	surplus := map[string][]float64{
		"1,0": {4}, "2,0": {0}, "0,1": {1}, "0,2": {0.5},
	}
	assert.Equal(t, []float64{4}, estimate(index.MultiIndex{3, 0}, surplus, 1))
	assert.Equal(t, []float64{4}, estimate(index.MultiIndex{1, 1}, surplus, 1))
	assert.Equal(t, []float64{1}, estimate(index.MultiIndex{0, 3}, surplus, 1))
	assert.True(t, math.IsInf(estimate(index.MultiIndex{2, 0}, surplus, 1)[0], 1))
	assert.True(t, math.IsInf(estimate(index.MultiIndex{0, 1}, surplus, 1)[0], 1))

	assert.Equal(t, 0.5, relative([]float64{1}, []float64{2}))
	assert.True(t, math.IsInf(relative([]float64{1}, []float64{0}), 1))
	assert.True(t, math.IsInf(relative([]float64{0}, []float64{0}), 1))
	assert.Equal(t, 0.0, relative([]float64{0, 0}, []float64{0, 2}))
}

var _ component.Store = (*component.Pool)(nil)
