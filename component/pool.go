package component

import (
	"crypto/sha1"
	"math"
	"sort"

	"github.com/rwcarlsen/hdmr"
	"github.com/rwcarlsen/hdmr/index"
)

// Sample is an evaluated full-dimensional input point.
type Sample struct {
	X []float64
	Y []float64
}

// Store supplies the samples lying in the cut projection of a subset.
type Store interface {
	Projected(u index.Subset) []Sample
}

// Pool keeps every evaluated sample of a run, keyed by quantized position.
type Pool struct {
	anchor  []float64
	samples map[[sha1.Size]byte]Sample
}

func NewPool(anchor []float64) *Pool {
	return &Pool{
		anchor:  append([]float64{}, anchor...),
		samples: map[[sha1.Size]byte]Sample{},
	}
}

// Add stores s and reports whether its position was new.  A sample at a
// known position is ignored.
func (p *Pool) Add(s Sample) bool {
	h := hdmr.Hash(s.X)
	if _, ok := p.samples[h]; ok {
		return false
	}
	p.samples[h] = Sample{X: append([]float64{}, s.X...), Y: append([]float64{}, s.Y...)}
	return true
}

func (p *Pool) Has(x []float64) bool {
	_, ok := p.samples[hdmr.Hash(x)]
	return ok
}

// HasHash is Has for a position already hashed with hdmr.Hash.
func (p *Pool) HasHash(h [sha1.Size]byte) bool {
	_, ok := p.samples[h]
	return ok
}

func (p *Pool) Len() int { return len(p.samples) }

// Projected returns the samples whose coordinates outside u sit at the
// anchor, in canonical order.
func (p *Pool) Projected(u index.Subset) []Sample {
	var out []Sample
	for _, s := range p.samples {
		if p.inProjection(s.X, u) {
			out = append(out, s)
		}
	}
	sortSamples(out)
	return out
}

func (p *Pool) inProjection(x []float64, u index.Subset) bool {
	for i, a := range p.anchor {
		if u.Contains(i) {
			continue
		}
		if math.Abs(x[i]-a) > 1e-12*math.Max(1, math.Abs(a)) {
			return false
		}
	}
	return true
}

// All returns every sample in canonical order.
func (p *Pool) All() []Sample {
	out := make([]Sample, 0, len(p.samples))
	for _, s := range p.samples {
		out = append(out, s)
	}
	sortSamples(out)
	return out
}

// Clone returns a pool that can be extended without affecting p.  Samples
// are immutable once added and are shared.
func (p *Pool) Clone() *Pool {
	c := &Pool{anchor: p.anchor, samples: make(map[[sha1.Size]byte]Sample, len(p.samples))}
	for h, s := range p.samples {
		c.samples[h] = s
	}
	return c
}

func sortSamples(ss []Sample) {
	sort.Slice(ss, func(i, j int) bool { return lessX(ss[i].X, ss[j].X) })
}

func lessX(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
