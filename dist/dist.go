// Package dist declares the uncertain inputs of a run.  Each variable is bound
// to a one-dimensional distribution that supplies its density, its quantile
// function and the orthogonal polynomial family used to expand responses in
// that variable.
package dist

import (
	"fmt"
	"math"

	"github.com/rwcarlsen/hdmr/poly"
	"gonum.org/v1/gonum/stat/distuv"
)

type Distribution interface {
	Prob(x float64) float64
	Quantile(p float64) float64
	Mean() float64
	// Bounds returns the support; unbounded ends are infinite.
	Bounds() (lo, hi float64)
	// Family returns the polynomials orthonormal under the distribution,
	// expressed in standardized coordinates.
	Family() poly.Family
	// Standardize maps x to the reference coordinate of Family.
	Standardize(x float64) float64
	Destandardize(z float64) float64
}

type Uniform struct {
	Min, Max float64
}

func NewUniform(min, max float64) (Uniform, error) {
	if !(min < max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return Uniform{}, fmt.Errorf("dist: invalid uniform bounds [%v, %v]", min, max)
	}
	return Uniform{Min: min, Max: max}, nil
}

func (u Uniform) d() distuv.Uniform { return distuv.Uniform{Min: u.Min, Max: u.Max} }

func (u Uniform) Prob(x float64) float64     { return u.d().Prob(x) }
func (u Uniform) Quantile(p float64) float64 { return u.d().Quantile(p) }
func (u Uniform) Mean() float64              { return (u.Min + u.Max) / 2 }
func (u Uniform) Bounds() (lo, hi float64)   { return u.Min, u.Max }
func (u Uniform) Family() poly.Family        { return poly.Legendre{} }

func (u Uniform) Standardize(x float64) float64 {
	return (2*x - u.Min - u.Max) / (u.Max - u.Min)
}

func (u Uniform) Destandardize(z float64) float64 {
	return (z*(u.Max-u.Min) + u.Min + u.Max) / 2
}

type Normal struct {
	Mu, Sigma float64
}

func NewNormal(mu, sigma float64) (Normal, error) {
	if !(sigma > 0) || math.IsInf(sigma, 0) || math.IsNaN(mu) || math.IsInf(mu, 0) {
		return Normal{}, fmt.Errorf("dist: invalid normal parameters mu=%v sigma=%v", mu, sigma)
	}
	return Normal{Mu: mu, Sigma: sigma}, nil
}

func (n Normal) d() distuv.Normal { return distuv.Normal{Mu: n.Mu, Sigma: n.Sigma} }

func (n Normal) Prob(x float64) float64          { return n.d().Prob(x) }
func (n Normal) Quantile(p float64) float64      { return n.d().Quantile(p) }
func (n Normal) Mean() float64                   { return n.Mu }
func (n Normal) Bounds() (lo, hi float64)        { return math.Inf(-1), math.Inf(1) }
func (n Normal) Family() poly.Family             { return poly.Hermite{} }
func (n Normal) Standardize(x float64) float64   { return (x - n.Mu) / n.Sigma }
func (n Normal) Destandardize(z float64) float64 { return n.Mu + n.Sigma*z }

// Kind tags the closed set of distributions that can be named in a
// configuration file.
type Kind string

const (
	KindUniform Kind = "uniform"
	KindNormal  Kind = "normal"
)

// Spec is the declarative form of a distribution.  Build resolves the kind
// once; the resulting Distribution is used directly afterwards.
type Spec struct {
	Kind  Kind    `yaml:"kind" json:"kind" validate:"required,oneof=uniform normal"`
	Min   float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max   float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Mu    float64 `yaml:"mu,omitempty" json:"mu,omitempty"`
	Sigma float64 `yaml:"sigma,omitempty" json:"sigma,omitempty"`
}

func (s Spec) Build() (Distribution, error) {
	switch s.Kind {
	case KindUniform:
		return NewUniform(s.Min, s.Max)
	case KindNormal:
		return NewNormal(s.Mu, s.Sigma)
	default:
		return nil, fmt.Errorf("dist: unknown distribution kind %q", s.Kind)
	}
}

// KindOf returns the configuration tag of d, or "" for distributions
// declared outside this package.
func KindOf(d Distribution) Kind {
	switch d.(type) {
	case Uniform, *Uniform:
		return KindUniform
	case Normal, *Normal:
		return KindNormal
	}
	return ""
}
