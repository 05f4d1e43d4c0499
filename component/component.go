// Package component fits one cut-HDMR component: the response of the model
// restricted to the variables of a subset with every other variable held at
// its anchor.  The component is a tensor expansion in the orthonormal
// polynomials of its variables, fitted by least squares to the samples lying
// in the subset's projection.
package component

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rwcarlsen/hdmr"
	"github.com/rwcarlsen/hdmr/dist"
	"github.com/rwcarlsen/hdmr/index"
	"gonum.org/v1/gonum/mat"
)

type InsufficientSamplesError struct {
	Subset  index.Subset
	Degrees []int
	Have    int
	Need    int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("component %v degrees %v: %d distinct samples, need %d", e.Subset, e.Degrees, e.Have, e.Need)
}

type SingularFitError struct {
	Subset  index.Subset
	Degrees []int
	Err     error
}

func (e *SingularFitError) Error() string {
	return fmt.Sprintf("component %v degrees %v: singular least squares system: %v", e.Subset, e.Degrees, e.Err)
}

func (e *SingularFitError) Unwrap() error { return e.Err }

var errNonFinite = errors.New("non-finite coefficients")

type Model struct {
	space   *dist.Space
	u       index.Subset
	basis   []index.MultiIndex
	pos     map[string]int
	outputs int
	// coef holds one row per basis term and one column per output.
	coef   *mat.Dense
	fitted bool
}

// New returns an unfitted component of subset u over the given basis.  Every
// basis term must be supported within u.
func New(space *dist.Space, u index.Subset, basis []index.MultiIndex, outputs int) *Model {
	m := &Model{
		space:   space,
		u:       append(index.Subset{}, u...),
		basis:   make([]index.MultiIndex, len(basis)),
		pos:     make(map[string]int, len(basis)),
		outputs: outputs,
	}
	for i, k := range basis {
		if !k.Within(u) {
			panic(fmt.Sprintf("component: basis term %v outside subset %v", k, u))
		}
		m.basis[i] = k.Clone()
		m.pos[k.Key()] = i
	}
	return m
}

func (m *Model) Subset() index.Subset { return m.u }

func (m *Model) Basis() []index.MultiIndex { return m.basis }

func (m *Model) Outputs() int { return m.outputs }

func (m *Model) Fitted() bool { return m.fitted }

// Degrees returns the largest degree of each subset variable in the basis.
func (m *Model) Degrees() []int {
	d := make([]int, len(m.u))
	for _, k := range m.basis {
		for i, v := range m.u {
			d[i] = max(d[i], k[v])
		}
	}
	return d
}

// Fit computes the coefficients from samples.  Samples at the same position
// are merged by averaging their responses and the rest are put in canonical
// order, so the result does not depend on the order samples arrive in.
func (m *Model) Fit(samples []Sample) error {
	for _, s := range samples {
		if len(s.Y) != m.outputs {
			return fmt.Errorf("component %v: sample %v has %d outputs, want %d", m.u, s.X, len(s.Y), m.outputs)
		}
	}
	pts := canonical(samples)
	need := len(m.basis)
	if len(pts) < need {
		return &InsufficientSamplesError{Subset: m.u, Degrees: m.Degrees(), Have: len(pts), Need: need}
	}

	a := mat.NewDense(len(pts), need, nil)
	y := mat.NewDense(len(pts), m.outputs, nil)
	z := make([]float64, len(m.u))
	for r, s := range pts {
		m.standardize(s.X, z)
		for c, k := range m.basis {
			a.Set(r, c, m.term(k, z))
		}
		for o, v := range s.Y {
			y.Set(r, o, v)
		}
	}

	var coef mat.Dense
	err := coef.Solve(a, y)
	var cond mat.Condition
	switch {
	case err == nil:
	case errors.As(err, &cond) && !math.IsInf(float64(cond), 1):
		// ill conditioned but solved
	default:
		return &SingularFitError{Subset: m.u, Degrees: m.Degrees(), Err: err}
	}
	for _, v := range coef.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &SingularFitError{Subset: m.u, Degrees: m.Degrees(), Err: errNonFinite}
		}
	}
	m.coef = &coef
	m.fitted = true
	return nil
}

func (m *Model) standardize(x, z []float64) {
	for i, v := range m.u {
		z[i] = m.space.Variable(v).Dist.Standardize(x[v])
	}
}

// term evaluates the tensor basis polynomial k at the standardized subset
// coordinates z.
func (m *Model) term(k index.MultiIndex, z []float64) float64 {
	p := 1.0
	for i, v := range m.u {
		if k[v] == 0 {
			continue
		}
		p *= m.space.Variable(v).Dist.Family().Eval(k[v], z[i])
	}
	return p
}

func (m *Model) evalStd(z []float64) []float64 {
	out := make([]float64, m.outputs)
	if !m.fitted {
		return out
	}
	for c, k := range m.basis {
		t := m.term(k, z)
		for o := range out {
			out[o] += m.coef.At(c, o) * t
		}
	}
	return out
}

// Evaluate returns the component at the subset coordinates xu, given in
// subset order.
func (m *Model) Evaluate(xu []float64) []float64 {
	z := make([]float64, len(m.u))
	for i, v := range m.u {
		z[i] = m.space.Variable(v).Dist.Standardize(xu[i])
	}
	return m.evalStd(z)
}

// EvaluateFull evaluates the component at a full-dimensional point.
func (m *Model) EvaluateFull(x []float64) []float64 {
	z := make([]float64, len(m.u))
	m.standardize(x, z)
	return m.evalStd(z)
}

// Coefficient returns the coefficients of basis term k, or nil if k is not
// in the basis.
func (m *Model) Coefficient(k index.MultiIndex) []float64 {
	c, ok := m.pos[k.Key()]
	if !ok || !m.fitted {
		return nil
	}
	return mat.Row(nil, c, m.coef)
}

// Coefficients returns the coefficient table, one row per basis term.
func (m *Model) Coefficients() [][]float64 {
	rows := make([][]float64, len(m.basis))
	for c := range m.basis {
		if m.fitted {
			rows[c] = mat.Row(nil, c, m.coef)
		} else {
			rows[c] = make([]float64, m.outputs)
		}
	}
	return rows
}

// Mean returns the expectation of the component per output.
func (m *Model) Mean() []float64 {
	mean, _ := m.moments()
	return mean
}

// VarianceContribution returns the variance of the component per output.
// It is computed with a tensor Gauss rule that integrates the squared
// component exactly.
func (m *Model) VarianceContribution() []float64 {
	mean, sq := m.moments()
	v := make([]float64, m.outputs)
	for o := range v {
		v[o] = math.Max(0, sq[o]-mean[o]*mean[o])
	}
	return v
}

func (m *Model) moments() (mean, sq []float64) {
	mean = make([]float64, m.outputs)
	sq = make([]float64, m.outputs)

	deg := m.Degrees()
	nodes := make([][]float64, len(m.u))
	weights := make([][]float64, len(m.u))
	for i, v := range m.u {
		nodes[i], weights[i] = m.space.Variable(v).Dist.Family().Rule(deg[i] + 1)
	}

	at := make([]int, len(m.u))
	z := make([]float64, len(m.u))
	for {
		w := 1.0
		for i := range at {
			z[i] = nodes[i][at[i]]
			w *= weights[i][at[i]]
		}
		g := m.evalStd(z)
		for o, v := range g {
			mean[o] += w * v
			sq[o] += w * v * v
		}

		i := 0
		for ; i < len(at); i++ {
			if at[i]+1 < len(nodes[i]) {
				at[i]++
				break
			}
			at[i] = 0
		}
		if i == len(at) {
			break
		}
	}
	return mean, sq
}

// canonical merges samples at the same position and sorts the result.
func canonical(samples []Sample) []Sample {
	type group struct {
		x   []float64
		sum []float64
		n   int
	}
	groups := map[[sha1.Size]byte]*group{}
	for _, s := range samples {
		h := hdmr.Hash(s.X)
		g, ok := groups[h]
		if !ok {
			g = &group{x: s.X, sum: make([]float64, len(s.Y))}
			groups[h] = g
		}
		for o, v := range s.Y {
			g.sum[o] += v
		}
		g.n++
	}

	out := make([]Sample, 0, len(groups))
	for _, g := range groups {
		y := make([]float64, len(g.sum))
		for o, v := range g.sum {
			y[o] = v / float64(g.n)
		}
		out = append(out, Sample{X: g.x, Y: y})
	}
	sort.Slice(out, func(i, j int) bool { return lessX(out[i].X, out[j].X) })
	return out
}
