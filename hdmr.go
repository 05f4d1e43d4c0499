// Package hdmr holds the model-evaluation boundary shared by the adaptive
// sampler and the surrogate builder: points, models and the evaluators that
// run a model over a batch of points.
package hdmr

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"log/slog"
	"math"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Quantum is the coordinate resolution used to decide whether two points are
// the same point.  Coordinates are rounded to a multiple of Quantum before
// hashing.
const Quantum = 1e-12

type Point struct {
	pos []float64
	Val []float64
}

func NewPoint(pos []float64, val ...float64) Point {
	cpos := make([]float64, len(pos))
	copy(cpos, pos)
	p := Point{pos: cpos}
	if len(val) > 0 {
		p.Val = append([]float64{}, val...)
	}
	return p
}

func (p Point) At(i int) float64 { return p.pos[i] }

func (p Point) Len() int { return len(p.pos) }

func (p Point) Pos() []float64 {
	pos := make([]float64, len(p.pos))
	copy(pos, p.pos)
	return pos
}

func (p Point) Hash() [sha1.Size]byte { return Hash(p.pos) }

// Hash returns a digest of x that is identical for points whose coordinates
// agree to within Quantum.
func Hash(x []float64) [sha1.Size]byte {
	data := make([]byte, len(x)*8)
	for i, v := range x {
		q := math.Round(v/Quantum) * Quantum
		if q == 0 {
			q = 0 // fold -0 onto +0
		}
		binary.BigEndian.PutUint64(data[i*8:], math.Float64bits(q))
	}
	return sha1.Sum(data)
}

type Model interface {
	// Evaluate runs the model at the full-dimensional input x and returns
	// its response vector.  Every call for a given model must return a
	// response of the same length.
	Evaluate(ctx context.Context, x []float64) ([]float64, error)
}

// Func adapts a scalar function to a single-output Model.
type Func func([]float64) float64

func (f Func) Evaluate(_ context.Context, x []float64) ([]float64, error) {
	return []float64{f(x)}, nil
}

// VecFunc adapts a vector-valued function to a Model.
type VecFunc func([]float64) []float64

func (f VecFunc) Evaluate(_ context.Context, x []float64) ([]float64, error) {
	return f(x), nil
}

// ModelLogger wraps a Model and logs every evaluation at debug level.
type ModelLogger struct {
	Model
	Log   *slog.Logger
	count atomic.Int64
}

func NewModelLogger(m Model, log *slog.Logger) *ModelLogger {
	return &ModelLogger{Model: m, Log: log}
}

func (ml *ModelLogger) Evaluate(ctx context.Context, x []float64) ([]float64, error) {
	val, err := ml.Model.Evaluate(ctx, x)
	n := ml.count.Add(1)
	if ml.Log != nil {
		ml.Log.Debug("model evaluation", "n", n, "x", x, "y", val, "error", err)
	}
	return val, err
}

// Count returns the number of evaluations performed so far.
func (ml *ModelLogger) Count() int { return int(ml.count.Load()) }

// Limited wraps a Model so that evaluations start no faster than lim allows.
type Limited struct {
	Model
	lim *rate.Limiter
}

// NewLimited limits m to perSec evaluations per second with bursts of up to
// burst evaluations.
func NewLimited(m Model, perSec float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{Model: m, lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (l *Limited) Evaluate(ctx context.Context, x []float64) ([]float64, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Model.Evaluate(ctx, x)
}
