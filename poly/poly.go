// Package poly provides families of polynomials that are orthonormal under
// a probability measure, along with Gauss quadrature rules for the same
// measure.  Rules returned by a Family have weights summing to one so that
// Σ w_i g(z_i) approximates the expectation of g.
package poly

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"
)

type Family interface {
	// Eval returns the degree n orthonormal polynomial evaluated at z.
	Eval(n int, z float64) float64
	// Rule returns the nodes and weights of the n-point Gauss rule in
	// ascending node order.
	Rule(n int) (z, w []float64)
	Name() string
}

// Legendre polynomials are orthonormal under the uniform measure on [-1, 1].
type Legendre struct{}

func (Legendre) Name() string { return "legendre" }

func (Legendre) Eval(n int, z float64) float64 {
	if n == 0 {
		return 1
	}
	p0, p1 := 1.0, z
	for k := 1; k < n; k++ {
		fk := float64(k)
		p0, p1 = p1, ((2*fk+1)*z*p1-fk*p0)/(fk+1)
	}
	return math.Sqrt(2*float64(n)+1) * p1
}

func (Legendre) Rule(n int) (z, w []float64) {
	checkRule(n)
	z = make([]float64, n)
	w = make([]float64, n)
	quad.Legendre{}.FixedLocations(z, w, -1, 1)
	for i := range w {
		w[i] /= 2
	}
	sortRule(z, w)
	return z, w
}

// Hermite polynomials (probabilists') are orthonormal under the standard
// normal measure.
type Hermite struct{}

func (Hermite) Name() string { return "hermite" }

func (Hermite) Eval(n int, z float64) float64 {
	if n == 0 {
		return 1
	}
	h0, h1 := 1.0, z
	for k := 1; k < n; k++ {
		fk := float64(k)
		h0, h1 = h1, (z*h1-math.Sqrt(fk)*h0)/math.Sqrt(fk+1)
	}
	return h1
}

// Rule computes the Gauss-Hermite rule from the eigendecomposition of the
// Jacobi matrix of the orthonormal recurrence (Golub-Welsch).
func (Hermite) Rule(n int) (z, w []float64) {
	checkRule(n)
	off := make([]float64, n-1)
	for i := range off {
		off[i] = math.Sqrt(float64(i + 1))
	}
	return golubWelsch(make([]float64, n), off)
}

func golubWelsch(diag, off []float64) (z, w []float64) {
	n := len(diag)
	jac := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		jac.SetSym(i, i, diag[i])
		if i+1 < n {
			jac.SetSym(i, i+1, off[i])
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(jac, true); !ok {
		panic(fmt.Sprintf("poly: eigendecomposition of %d-point Jacobi matrix failed", n))
	}
	z = es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	w = make([]float64, n)
	for j := range w {
		v := vecs.At(0, j)
		w[j] = v * v
	}
	sortRule(z, w)
	return z, w
}

func checkRule(n int) {
	if n < 1 {
		panic(fmt.Sprintf("poly: invalid rule size %d", n))
	}
}

type byNode struct{ z, w []float64 }

func (r byNode) Len() int           { return len(r.z) }
func (r byNode) Less(i, j int) bool { return r.z[i] < r.z[j] }
func (r byNode) Swap(i, j int) {
	r.z[i], r.z[j] = r.z[j], r.z[i]
	r.w[i], r.w[j] = r.w[j], r.w[i]
}

func sortRule(z, w []float64) { sort.Sort(byNode{z, w}) }
