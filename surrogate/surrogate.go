// Package surrogate assembles cut-HDMR components into a single surrogate
// model and derives Sobol sensitivity indices from it.
//
// The components g_u are cut functions: they contain the lower order
// components of the same variables.  The surrogate combines them by
// inclusion-exclusion,
//
//	f(x) ≈ Σ_v c_v g_v(x),   c_v = Σ_{u active, u ⊇ v} (-1)^(|u|-|v|),
//
// which yields a single expansion in orthonormal polynomials.  Grouping the
// terms of that expansion by their exact support gives the orthogonal (ANOVA)
// decomposition, whose component variances are the Sobol partial variances.
package surrogate

import (
	"fmt"
	"sort"

	"github.com/rwcarlsen/hdmr/component"
	"github.com/rwcarlsen/hdmr/dist"
	"github.com/rwcarlsen/hdmr/index"
	"gonum.org/v1/gonum/floats"
)

// DefaultNormTolerance bounds |1 - Σ S_u| for Indices.Normalized.
const DefaultNormTolerance = 1e-8

type HDMR struct {
	space   *dist.Space
	set     *index.Set
	outputs int

	subsets []index.Subset
	comps   map[string]*component.Model
	nsample map[string]int
	weights map[string]int
	// coef is the assembled expansion keyed by multi-index key.
	coef map[string][]float64
}

// Build fits a component for every subset supporting an active index of set
// using the samples in store.
func Build(space *dist.Space, set *index.Set, store component.Store, outputs int) (*HDMR, error) {
	return build(space, set, store, outputs, nil)
}

// Refit returns a surrogate for a grown index set.  Components whose basis
// and samples are unchanged are shared with h; h itself is not modified.
func (h *HDMR) Refit(set *index.Set, store component.Store) (*HDMR, error) {
	return build(h.space, set, store, h.outputs, h)
}

func build(space *dist.Space, set *index.Set, store component.Store, outputs int, prev *HDMR) (*HDMR, error) {
	if outputs < 1 {
		return nil, fmt.Errorf("surrogate: %d outputs", outputs)
	}
	h := &HDMR{
		space:   space,
		set:     set,
		outputs: outputs,
		subsets: set.Subsets(),
		comps:   map[string]*component.Model{},
		nsample: map[string]int{},
	}
	for _, u := range h.subsets {
		basis := set.Within(u)
		samples := store.Projected(u)
		key := u.Key()
		if prev != nil {
			if old, ok := prev.comps[key]; ok && prev.nsample[key] == len(samples) && sameBasis(old.Basis(), basis) {
				h.comps[key] = old
				h.nsample[key] = len(samples)
				continue
			}
		}
		m := component.New(space, u, basis, outputs)
		if err := m.Fit(samples); err != nil {
			return nil, err
		}
		h.comps[key] = m
		h.nsample[key] = len(samples)
	}
	h.assemble()
	return h, nil
}

func sameBasis(a, b []index.MultiIndex) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key() != b[i].Key() {
			return false
		}
	}
	return true
}

func (h *HDMR) assemble() {
	h.weights = make(map[string]int, len(h.subsets))
	for _, v := range h.subsets {
		c := 0
		for _, u := range h.subsets {
			if v.SubsetOf(u) {
				if (len(u)-len(v))%2 == 0 {
					c++
				} else {
					c--
				}
			}
		}
		h.weights[v.Key()] = c
	}

	h.coef = map[string][]float64{}
	for _, k := range h.set.Active() {
		sum := make([]float64, h.outputs)
		supp := k.Support()
		for _, v := range h.subsets {
			c := h.weights[v.Key()]
			if c == 0 || !supp.SubsetOf(v) {
				continue
			}
			floats.AddScaled(sum, float64(c), h.comps[v.Key()].Coefficient(k))
		}
		h.coef[k.Key()] = sum
	}
}

func (h *HDMR) Space() *dist.Space { return h.space }
func (h *HDMR) Set() *index.Set    { return h.set }
func (h *HDMR) Outputs() int       { return h.outputs }

// Subsets returns the component subsets, constant term first.
func (h *HDMR) Subsets() []index.Subset { return h.subsets }

func (h *HDMR) Component(u index.Subset) *component.Model { return h.comps[u.Key()] }

// Weight returns the inclusion-exclusion weight of the component of u.
func (h *HDMR) Weight(u index.Subset) int { return h.weights[u.Key()] }

// Coefficient returns the coefficients of term k in the assembled expansion.
// Inactive terms have zero coefficients.
func (h *HDMR) Coefficient(k index.MultiIndex) []float64 {
	if c, ok := h.coef[k.Key()]; ok {
		return append([]float64{}, c...)
	}
	return make([]float64, h.outputs)
}

func (h *HDMR) Evaluate(x []float64) []float64 {
	y := make([]float64, h.outputs)
	for _, u := range h.subsets {
		if c := h.weights[u.Key()]; c != 0 {
			floats.AddScaled(y, float64(c), h.comps[u.Key()].EvaluateFull(x))
		}
	}
	return y
}

func (h *HDMR) Mean() []float64 {
	return h.Coefficient(index.Zero(h.space.Len()))
}

// PartialVariances returns the variance of each orthogonal component, keyed
// by subset key.  The constant term is omitted.
func (h *HDMR) PartialVariances() map[string][]float64 {
	pv := map[string][]float64{}
	for _, k := range h.set.Active() {
		if k.IsZero() {
			continue
		}
		key := k.Support().Key()
		v, ok := pv[key]
		if !ok {
			v = make([]float64, h.outputs)
			pv[key] = v
		}
		for o, c := range h.coef[k.Key()] {
			v[o] += c * c
		}
	}
	return pv
}

func (h *HDMR) TotalVariance() []float64 {
	total := make([]float64, h.outputs)
	pv := h.PartialVariances()
	for _, u := range h.subsets {
		if v, ok := pv[u.Key()]; ok {
			floats.Add(total, v)
		}
	}
	return total
}

// Indices holds first and higher order Sobol indices per output.
type Indices struct {
	Subsets []index.Subset
	// Values[i][o] is the index of Subsets[i] for output o.
	Values [][]float64
	// Residual is 1 - Σ S_u per output.
	Residual []float64
}

// Of returns the indices of subset u, or zeros if u has no component.
func (ix Indices) Of(u index.Subset) []float64 {
	for i, w := range ix.Subsets {
		if w.Equal(u) {
			return ix.Values[i]
		}
	}
	return make([]float64, len(ix.Residual))
}

// Normalized reports whether the indices of every output sum to one within
// eps.
func (ix Indices) Normalized(eps float64) bool {
	for _, r := range ix.Residual {
		if r > eps || r < -eps {
			return false
		}
	}
	return true
}

// SensitivityIndices returns S_u = V_u / V for every non-constant subset.  An
// output with zero total variance has all indices zero and residual one.
func (h *HDMR) SensitivityIndices() Indices {
	pv := h.PartialVariances()
	total := h.TotalVariance()
	ix := Indices{Residual: make([]float64, h.outputs)}
	for o := range ix.Residual {
		ix.Residual[o] = 1
	}
	for _, u := range h.subsets {
		if len(u) == 0 {
			continue
		}
		s := make([]float64, h.outputs)
		if v, ok := pv[u.Key()]; ok {
			for o := range s {
				if total[o] > 0 {
					s[o] = v[o] / total[o]
				}
				ix.Residual[o] -= s[o]
			}
		}
		ix.Subsets = append(ix.Subsets, u)
		ix.Values = append(ix.Values, s)
	}
	return ix
}

// Ranked returns the positions of ix.Subsets sorted by decreasing index of
// output o.
func (ix Indices) Ranked(o int) []int {
	pos := make([]int, len(ix.Subsets))
	for i := range pos {
		pos[i] = i
	}
	sort.SliceStable(pos, func(a, b int) bool { return ix.Values[pos[a]][o] > ix.Values[pos[b]][o] })
	return pos
}
