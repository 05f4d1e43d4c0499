package index

import (
	"fmt"
	"sort"
)

// InadmissibleIndexError is returned when adding an index would break the
// truncation or the downward closure of a Set.
type InadmissibleIndexError struct {
	Index  MultiIndex
	Reason string
}

func (e *InadmissibleIndexError) Error() string {
	return fmt.Sprintf("index: %v inadmissible: %s", e.Index, e.Reason)
}

// Set is a downward-closed set of multi-indices truncated to interaction
// order MaxOrder and to the hyperbolic cross Π(k_i+1) <= Bound.  The set only
// grows.
type Set struct {
	dim      int
	maxOrder int
	bound    int
	active   map[string]MultiIndex
}

// NewSet returns an empty set over dim variables.  polyOrder sets the
// hyperbolic cross bound to polyOrder+1, so that a single variable reaches
// degree polyOrder.
func NewSet(dim, maxOrder, polyOrder int) (*Set, error) {
	switch {
	case dim < 1:
		return nil, fmt.Errorf("index: dimension %d < 1", dim)
	case maxOrder < 1:
		return nil, fmt.Errorf("index: max interaction order %d < 1", maxOrder)
	case polyOrder < 1:
		return nil, fmt.Errorf("index: polynomial order %d < 1", polyOrder)
	}
	return &Set{
		dim:      dim,
		maxOrder: min(maxOrder, dim),
		bound:    polyOrder + 1,
		active:   map[string]MultiIndex{},
	}, nil
}

func (s *Set) Dim() int      { return s.dim }
func (s *Set) MaxOrder() int { return s.maxOrder }
func (s *Set) Bound() int    { return s.bound }
func (s *Set) Len() int      { return len(s.active) }

func (s *Set) Contains(k MultiIndex) bool {
	_, ok := s.active[k.Key()]
	return ok
}

// truncated returns a non-empty reason if k lies outside the truncation.
func (s *Set) truncated(k MultiIndex) string {
	if len(k) != s.dim {
		return fmt.Sprintf("length %d, want %d", len(k), s.dim)
	}
	order, prod := 0, 1
	for _, v := range k {
		if v < 0 {
			return "negative degree"
		}
		if v > 0 {
			order++
		}
		prod *= v + 1
	}
	if order > s.maxOrder {
		return fmt.Sprintf("interaction order %d exceeds %d", order, s.maxOrder)
	}
	if prod > s.bound {
		return fmt.Sprintf("hyperbolic cross product %d exceeds %d", prod, s.bound)
	}
	return ""
}

func (s *Set) check(k MultiIndex) *InadmissibleIndexError {
	if r := s.truncated(k); r != "" {
		return &InadmissibleIndexError{Index: k.Clone(), Reason: r}
	}
	if s.Contains(k) {
		return &InadmissibleIndexError{Index: k.Clone(), Reason: "already active"}
	}
	for i, v := range k {
		if v > 0 && !s.Contains(k.Add(i, -1)) {
			return &InadmissibleIndexError{
				Index:  k.Clone(),
				Reason: fmt.Sprintf("parent %v not active", k.Add(i, -1)),
			}
		}
	}
	return nil
}

// IsAdmissibleToAdd reports whether k is inside the truncation, not yet
// active and has all of its backward neighbors active.
func (s *Set) IsAdmissibleToAdd(k MultiIndex) bool { return s.check(k) == nil }

func (s *Set) Add(k MultiIndex) error {
	if err := s.check(k); err != nil {
		return err
	}
	s.active[k.Key()] = k.Clone()
	return nil
}

// Active returns the active indices ordered by Less.
func (s *Set) Active() []MultiIndex {
	ks := make([]MultiIndex, 0, len(s.active))
	for _, k := range s.active {
		ks = append(ks, k.Clone())
	}
	sortIndices(ks)
	return ks
}

// Within returns the active indices whose support is contained in u.
func (s *Set) Within(u Subset) []MultiIndex {
	var ks []MultiIndex
	for _, k := range s.active {
		if k.Within(u) {
			ks = append(ks, k.Clone())
		}
	}
	sortIndices(ks)
	return ks
}

// Subsets returns the distinct supports of the active indices ordered by
// SubsetLess.
func (s *Set) Subsets() []Subset {
	seen := map[string]bool{}
	var us []Subset
	for _, k := range s.active {
		u := k.Support()
		if !seen[u.Key()] {
			seen[u.Key()] = true
			us = append(us, u)
		}
	}
	sort.Slice(us, func(i, j int) bool { return SubsetLess(us[i], us[j]) })
	return us
}

// Degrees returns, for each variable of u, the largest degree of that
// variable among the active indices supported in u.
func (s *Set) Degrees(u Subset) []int {
	d := make([]int, len(u))
	for _, k := range s.active {
		if !k.Within(u) {
			continue
		}
		for i, v := range u {
			d[i] = max(d[i], k[v])
		}
	}
	return d
}

// Candidates returns the frontier: indices that are admissible to add and
// are forward neighbors of an active index.  The frontier of an empty set is
// the zero index.
func (s *Set) Candidates() []MultiIndex {
	if len(s.active) == 0 {
		return []MultiIndex{Zero(s.dim)}
	}
	seen := map[string]bool{}
	var ks []MultiIndex
	for _, j := range s.active {
		for i := 0; i < s.dim; i++ {
			k := j.Add(i, 1)
			key := k.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			if s.IsAdmissibleToAdd(k) {
				ks = append(ks, k)
			}
		}
	}
	sortIndices(ks)
	return ks
}

// Closure returns the indices of the tensor block below target that are not
// yet active, in an order in which they can be added one by one.
func (s *Set) Closure(target MultiIndex) ([]MultiIndex, error) {
	if r := s.truncated(target); r != "" {
		return nil, &InadmissibleIndexError{Index: target.Clone(), Reason: r}
	}
	var ks []MultiIndex
	k := Zero(s.dim)
	for {
		if !s.Contains(k) {
			ks = append(ks, k.Clone())
		}
		// odometer increment bounded by target
		i := 0
		for ; i < s.dim; i++ {
			if k[i] < target[i] {
				k[i]++
				break
			}
			k[i] = 0
		}
		if i == s.dim {
			break
		}
	}
	sortIndices(ks)
	return ks, nil
}

func (s *Set) Clone() *Set {
	c := *s
	c.active = make(map[string]MultiIndex, len(s.active))
	for key, k := range s.active {
		c.active[key] = k
	}
	return &c
}

func sortIndices(ks []MultiIndex) {
	sort.Slice(ks, func(i, j int) bool { return Less(ks[i], ks[j]) })
}
