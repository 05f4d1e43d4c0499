package dist

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// MaxNodes is the number of nested abscissas computed for each variable.
const MaxNodes = 64

// lejaCandidates is the size of the Gauss rule the Leja sequence is drawn
// from.
const lejaCandidates = 200

type DuplicateVariableError struct {
	Name string
}

func (e *DuplicateVariableError) Error() string {
	return fmt.Sprintf("dist: variable %q already declared", e.Name)
}

var (
	ErrEmptyName = errors.New("dist: variable name is empty")
	ErrNilDist   = errors.New("dist: nil distribution")
)

type Variable struct {
	Name string
	Dist Distribution
	// nodes holds the nested abscissas in standardized coordinates.
	nodes []float64
}

// Abscissa returns the n-th nested abscissa of v in the variable's own
// coordinates.  Abscissa 0 is the distribution mean.
func (v *Variable) Abscissa(n int) float64 {
	if n < 0 || n >= len(v.nodes) {
		panic(fmt.Sprintf("dist: abscissa %d of %q out of range [0,%d)", n, v.Name, len(v.nodes)))
	}
	return v.Dist.Destandardize(v.nodes[n])
}

// Space is the ordered set of declared input variables.  Variables are
// addressed by their declaration position.
type Space struct {
	vars   []*Variable
	byname map[string]int
}

func NewSpace() *Space {
	return &Space{byname: map[string]int{}}
}

func (s *Space) Declare(name string, d Distribution) error {
	if name == "" {
		return ErrEmptyName
	}
	if d == nil {
		return ErrNilDist
	}
	if _, ok := s.byname[name]; ok {
		return &DuplicateVariableError{Name: name}
	}
	v := &Variable{Name: name, Dist: d, nodes: leja(d, MaxNodes)}
	s.byname[name] = len(s.vars)
	s.vars = append(s.vars, v)
	return nil
}

func (s *Space) Len() int { return len(s.vars) }

func (s *Space) Variable(i int) *Variable { return s.vars[i] }

func (s *Space) Names() []string {
	names := make([]string, len(s.vars))
	for i, v := range s.vars {
		names[i] = v.Name
	}
	return names
}

// Lookup returns the position of the named variable.
func (s *Space) Lookup(name string) (int, bool) {
	i, ok := s.byname[name]
	return i, ok
}

// Anchor returns the cut point: every variable at its mean.
func (s *Space) Anchor() []float64 {
	x := make([]float64, len(s.vars))
	for i, v := range s.vars {
		x[i] = v.Abscissa(0)
	}
	return x
}

// Point returns the full-dimensional sample point of the degree vector k:
// coordinate i is the k[i]-th nested abscissa of variable i.
func (s *Space) Point(k []int) []float64 {
	if len(k) != len(s.vars) {
		panic(fmt.Sprintf("dist: degree vector of length %d in %d-dimensional space", len(k), len(s.vars)))
	}
	x := make([]float64, len(k))
	for i, v := range s.vars {
		x[i] = v.Abscissa(k[i])
	}
	return x
}

// Sample draws one point from the joint (independent) input distribution.
func (s *Space) Sample(rng *rand.Rand) []float64 {
	x := make([]float64, len(s.vars))
	for i, v := range s.vars {
		for {
			p := rng.Float64()
			if p == 0 {
				continue
			}
			x[i] = v.Dist.Quantile(p)
			break
		}
	}
	return x
}

func (s *Space) SampleN(rng *rand.Rand, n int) [][]float64 {
	xs := make([][]float64, n)
	for i := range xs {
		xs[i] = s.Sample(rng)
	}
	return xs
}

// leja builds a weighted Leja sequence of n points in standardized
// coordinates.  The first point is the origin (the mean); each further point
// maximizes sqrt(ρ(z)) Π|z - z_j| over the Gauss abscissas of the family.
func leja(d Distribution, n int) []float64 {
	cand, _ := d.Family().Rule(lejaCandidates)
	logw := make([]float64, len(cand))
	for i, z := range cand {
		logw[i] = 0.5 * math.Log(d.Prob(d.Destandardize(z)))
	}

	nodes := make([]float64, 1, n)
	used := make([]bool, len(cand))
	for len(nodes) < n {
		best, bestScore := -1, math.Inf(-1)
		for i, z := range cand {
			if used[i] || math.IsInf(logw[i], -1) {
				continue
			}
			score := logw[i]
			for _, zj := range nodes {
				score += math.Log(math.Abs(z - zj))
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			panic("dist: exhausted Leja candidates")
		}
		used[best] = true
		nodes = append(nodes, cand[best])
	}
	return nodes
}
