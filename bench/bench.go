// Package bench provides analytic test functions with known means,
// variances and Sobol indices for checking surrogate construction, e.g. from
// https://www.sfu.ca/~ssurjano/uq.html.
package bench

import (
	"context"
	"fmt"
	"math"

	"github.com/rwcarlsen/hdmr"
	"github.com/rwcarlsen/hdmr/dist"
	"github.com/rwcarlsen/hdmr/sampler"
)

var (
	sin = math.Sin
	abs = math.Abs
	pi  = math.Pi
)

var AllFuncs = []Func{
	Linear2{},
	Additive{},
	NormalQuad{},
	Ishigami{A: 7, B: 0.1},
	SobolG{A: []float64{0, 1, 4.5, 9}},
}

type Variable struct {
	Name string
	Spec dist.Spec
}

type Func interface {
	Name() string
	Eval(x []float64) float64
	Variables() []Variable
	Mean() float64
	Variance() float64
	// Indices returns the exact Sobol indices keyed by comma separated
	// variable names.  Subsets that are absent have a zero index.
	Indices() map[string]float64
}

// ByName returns the function of AllFuncs with the given name.
func ByName(name string) (Func, error) {
	for _, fn := range AllFuncs {
		if fn.Name() == name {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("bench: unknown function %q", name)
}

func uniform(n int, lo, hi float64) []Variable {
	vars := make([]Variable, n)
	for i := range vars {
		vars[i] = Variable{Name: fmt.Sprintf("x%d", i+1), Spec: dist.Spec{Kind: dist.KindUniform, Min: lo, Max: hi}}
	}
	return vars
}

// Linear2 is 3 + 2 x1 + x1 x2 on [-1,1]^2.
type Linear2 struct{}

func (fn Linear2) Name() string             { return "Linear2" }
func (fn Linear2) Eval(x []float64) float64 { return 3 + 2*x[0] + x[0]*x[1] }
func (fn Linear2) Variables() []Variable    { return uniform(2, -1, 1) }
func (fn Linear2) Mean() float64            { return 3 }
func (fn Linear2) Variance() float64        { return 13.0 / 9 }

func (fn Linear2) Indices() map[string]float64 {
	return map[string]float64{"x1": 12.0 / 13, "x1,x2": 1.0 / 13}
}

// Additive is x1 + x2^3 on [-1,1]^2.
type Additive struct{}

func (fn Additive) Name() string             { return "Additive" }
func (fn Additive) Eval(x []float64) float64 { return x[0] + x[1]*x[1]*x[1] }
func (fn Additive) Variables() []Variable    { return uniform(2, -1, 1) }
func (fn Additive) Mean() float64            { return 0 }
func (fn Additive) Variance() float64        { return 1.0/3 + 1.0/7 }

func (fn Additive) Indices() map[string]float64 {
	return map[string]float64{"x1": 0.7, "x2": 0.3}
}

// NormalQuad is 1 + 2 x1 + 3 x2^2 with standard normal inputs.
type NormalQuad struct{}

func (fn NormalQuad) Name() string             { return "NormalQuad" }
func (fn NormalQuad) Eval(x []float64) float64 { return 1 + 2*x[0] + 3*x[1]*x[1] }
func (fn NormalQuad) Mean() float64            { return 4 }
func (fn NormalQuad) Variance() float64        { return 22 }

func (fn NormalQuad) Variables() []Variable {
	return []Variable{
		{Name: "x1", Spec: dist.Spec{Kind: dist.KindNormal, Mu: 0, Sigma: 1}},
		{Name: "x2", Spec: dist.Spec{Kind: dist.KindNormal, Mu: 0, Sigma: 1}},
	}
}

func (fn NormalQuad) Indices() map[string]float64 {
	return map[string]float64{"x1": 4.0 / 22, "x2": 18.0 / 22}
}

// Ishigami is sin x1 + A sin^2 x2 + B x3^4 sin x1 on [-π,π]^3.
type Ishigami struct {
	A, B float64
}

func (fn Ishigami) Name() string          { return "Ishigami" }
func (fn Ishigami) Variables() []Variable { return uniform(3, -pi, pi) }
func (fn Ishigami) Mean() float64         { return fn.A / 2 }

func (fn Ishigami) Eval(x []float64) float64 {
	s2 := sin(x[1])
	return sin(x[0]) + fn.A*s2*s2 + fn.B*math.Pow(x[2], 4)*sin(x[0])
}

func (fn Ishigami) partials() (v1, v2, v13 float64) {
	b, pi4, pi8 := fn.B, math.Pow(pi, 4), math.Pow(pi, 8)
	v1 = 0.5 * (1 + b*pi4/5) * (1 + b*pi4/5)
	v2 = fn.A * fn.A / 8
	v13 = 8 * b * b * pi8 / 225
	return v1, v2, v13
}

func (fn Ishigami) Variance() float64 {
	v1, v2, v13 := fn.partials()
	return v1 + v2 + v13
}

func (fn Ishigami) Indices() map[string]float64 {
	v1, v2, v13 := fn.partials()
	v := v1 + v2 + v13
	return map[string]float64{"x1": v1 / v, "x2": v2 / v, "x1,x3": v13 / v}
}

// SobolG is Π (|4 x_i - 2| + a_i) / (1 + a_i) on [0,1]^d with d = len(A).
type SobolG struct {
	A []float64
}

func (fn SobolG) Name() string          { return fmt.Sprintf("SobolG_%vD", len(fn.A)) }
func (fn SobolG) Variables() []Variable { return uniform(len(fn.A), 0, 1) }
func (fn SobolG) Mean() float64         { return 1 }

func (fn SobolG) Eval(x []float64) float64 {
	p := 1.0
	for i, a := range fn.A {
		p *= (abs(4*x[i]-2) + a) / (1 + a)
	}
	return p
}

func (fn SobolG) partial(i int) float64 {
	return 1 / (3 * (1 + fn.A[i]) * (1 + fn.A[i]))
}

func (fn SobolG) Variance() float64 {
	p := 1.0
	for i := range fn.A {
		p *= 1 + fn.partial(i)
	}
	return p - 1
}

// Indices returns the first and second order indices.
func (fn SobolG) Indices() map[string]float64 {
	v := fn.Variance()
	ix := map[string]float64{}
	for i := range fn.A {
		ix[fmt.Sprintf("x%d", i+1)] = fn.partial(i) / v
		for j := i + 1; j < len(fn.A); j++ {
			ix[fmt.Sprintf("x%d,x%d", i+1, j+1)] = fn.partial(i) * fn.partial(j) / v
		}
	}
	return ix
}

// Space declares the variables of fn.
func Space(fn Func) (*dist.Space, error) {
	s := dist.NewSpace()
	for _, v := range fn.Variables() {
		d, err := v.Spec.Build()
		if err != nil {
			return nil, fmt.Errorf("bench %v: %w", fn.Name(), err)
		}
		if err := s.Declare(v.Name, d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func Model(fn Func) hdmr.Model { return hdmr.Func(fn.Eval) }

// Benchmark builds a surrogate of fn and returns the run result along with
// the largest absolute error of the computed Sobol indices.
func Benchmark(ctx context.Context, fn Func, cfg sampler.Config, opts ...sampler.Option) (res *sampler.Result, maxerr float64, err error) {
	space, err := Space(fn)
	if err != nil {
		return nil, 0, err
	}
	s, err := sampler.New(space, Model(fn), cfg, opts...)
	if err != nil {
		return nil, 0, err
	}
	defer s.Close()

	res, err = s.Run(ctx)
	if err != nil {
		return nil, 0, err
	}
	return res, IndexError(fn, space, res), nil
}

// IndexError returns the largest absolute difference between the computed
// indices of res and the exact indices of fn.
func IndexError(fn Func, space *dist.Space, res *sampler.Result) float64 {
	names := space.Names()
	exact := fn.Indices()
	seen := map[string]bool{}
	maxerr := 0.0
	for i, u := range res.Indices.Subsets {
		key := u.Names(names)
		seen[key] = true
		maxerr = math.Max(maxerr, abs(res.Indices.Values[i][0]-exact[key]))
	}
	for key, v := range exact {
		if !seen[key] {
			maxerr = math.Max(maxerr, abs(v))
		}
	}
	return maxerr
}
