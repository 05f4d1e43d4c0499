// Package index tracks which polynomial terms of an HDMR expansion are
// active.  A term is a MultiIndex: a degree for every input variable.  The
// variables with nonzero degree form the term's Subset.
package index

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Subset is a sorted set of variable positions.  The empty subset denotes
// the constant term.
type Subset []int

// NewSubset returns the sorted, deduplicated subset of vars.
func NewSubset(vars ...int) Subset {
	u := append(Subset{}, vars...)
	sort.Ints(u)
	out := u[:0]
	for i, v := range u {
		if i == 0 || v != u[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func (u Subset) Key() string {
	parts := make([]string, len(u))
	for i, v := range u {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (u Subset) String() string { return "{" + u.Key() + "}" }

func (u Subset) Contains(v int) bool {
	i := sort.SearchInts(u, v)
	return i < len(u) && u[i] == v
}

// SubsetOf reports whether every element of u is in w.
func (u Subset) SubsetOf(w Subset) bool {
	for _, v := range u {
		if !w.Contains(v) {
			return false
		}
	}
	return true
}

func (u Subset) Equal(w Subset) bool {
	if len(u) != len(w) {
		return false
	}
	for i := range u {
		if u[i] != w[i] {
			return false
		}
	}
	return true
}

// Names renders u using variable names, e.g. "x1,x3".
func (u Subset) Names(names []string) string {
	parts := make([]string, len(u))
	for i, v := range u {
		parts[i] = names[v]
	}
	return strings.Join(parts, ",")
}

// SubsetLess orders subsets by cardinality and then elementwise.
func SubsetLess(a, b Subset) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// MultiIndex is the degree vector of one tensor polynomial term.
type MultiIndex []int

func Zero(dim int) MultiIndex { return make(MultiIndex, dim) }

func (k MultiIndex) Key() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (k MultiIndex) String() string { return "(" + k.Key() + ")" }

func (k MultiIndex) Support() Subset {
	u := Subset{}
	for i, v := range k {
		if v != 0 {
			u = append(u, i)
		}
	}
	return u
}

// Total returns the total degree of k.
func (k MultiIndex) Total() int {
	n := 0
	for _, v := range k {
		n += v
	}
	return n
}

func (k MultiIndex) IsZero() bool { return k.Total() == 0 }

func (k MultiIndex) Clone() MultiIndex { return append(MultiIndex{}, k...) }

// Add returns a copy of k with delta added to degree i.
func (k MultiIndex) Add(i, delta int) MultiIndex {
	c := k.Clone()
	c[i] += delta
	return c
}

// Within reports whether the support of k is contained in u.
func (k MultiIndex) Within(u Subset) bool {
	for i, v := range k {
		if v != 0 && !u.Contains(i) {
			return false
		}
	}
	return true
}

// Restrict returns the degrees of k at the positions of u.
func (k MultiIndex) Restrict(u Subset) []int {
	d := make([]int, len(u))
	for i, v := range u {
		d[i] = k[v]
	}
	return d
}

// Less orders multi-indices by total degree and then lexicographically.
func Less(a, b MultiIndex) bool {
	if ta, tb := a.Total(), b.Total(); ta != tb {
		return ta < tb
	}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ParseMultiIndex is the inverse of Key.
func ParseMultiIndex(key string) (MultiIndex, error) {
	if key == "" {
		return MultiIndex{}, nil
	}
	parts := strings.Split(key, ",")
	k := make(MultiIndex, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("index: invalid multi-index key %q", key)
		}
		k[i] = v
	}
	return k, nil
}
