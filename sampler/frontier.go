package sampler

import (
	"math"

	"github.com/petar/GoLLRB/llrb"
	"github.com/rwcarlsen/hdmr/index"
)

// estimate returns the predicted variance contribution of candidate k from
// the realized surplus of its backward neighbors k-e_i and k-2e_i.  Using two
// steps back keeps the estimate alive for responses that are even or odd in
// a variable.  A candidate next to the constant term has no estimate and
// gets +Inf.
func estimate(k index.MultiIndex, surplus map[string][]float64, outputs int) []float64 {
	est := make([]float64, outputs)
	for _, i := range k.Support() {
		for step := 1; step <= 2 && step <= k[i]; step++ {
			p := k.Add(i, -step)
			if p.IsZero() {
				for o := range est {
					est[o] = math.Inf(1)
				}
				return est
			}
			for o, v := range surplus[p.Key()] {
				est[o] = math.Max(est[o], v)
			}
		}
	}
	return est
}

// relative returns the largest ratio of v to the total variance over
// outputs.  A zero total variance makes any positive v infinitely large.
// While no output has variance yet, every v is +Inf: a zero estimate then
// says nothing about the terms not sampled.
func relative(v, total []float64) float64 {
	if !resolved(total) {
		return math.Inf(1)
	}
	rel := 0.0
	for o := range v {
		var r float64
		switch {
		case total[o] > 0:
			r = v[o] / total[o]
		case v[o] > 0:
			r = math.Inf(1)
		}
		rel = math.Max(rel, r)
	}
	return rel
}

// resolved reports whether any output has positive total variance.
func resolved(total []float64) bool {
	for _, t := range total {
		if t > 0 {
			return true
		}
	}
	return false
}

type candidate struct {
	k   index.MultiIndex
	key string
	rel float64
	// rank orders candidates of equal estimate, in practice the
	// unestimated ones.
	rank int
}

func (c candidate) Less(than llrb.Item) bool {
	o := than.(candidate)
	switch {
	case c.rel != o.rel:
		return c.rel > o.rel
	case c.rank != o.rank:
		return c.rank < o.rank
	}
	return c.key < o.key
}

// rank orders the frontier by decreasing relative estimate.  Unestimated
// candidates come first and rotate with cursor so that repeated partial
// selections visit all of them.
func rank(frontier []index.MultiIndex, rel map[string]float64, cursor int) []candidate {
	nunest := 0
	for _, k := range frontier {
		if math.IsInf(rel[k.Key()], 1) {
			nunest++
		}
	}

	tree := llrb.New()
	pos := 0
	for _, k := range frontier {
		c := candidate{k: k, key: k.Key(), rel: rel[k.Key()]}
		if math.IsInf(c.rel, 1) {
			c.rank = ((pos-cursor)%nunest + nunest) % nunest
			pos++
		}
		tree.InsertNoReplace(c)
	}

	ranked := make([]candidate, 0, tree.Len())
	for tree.Len() > 0 {
		ranked = append(ranked, tree.DeleteMin().(candidate))
	}
	return ranked
}
