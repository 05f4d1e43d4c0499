package index

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubset(t *testing.T) {
	u := NewSubset(3, 1, 3, 0)
	assert.Equal(t, Subset{0, 1, 3}, u)
	assert.Equal(t, "0,1,3", u.Key())
	assert.Equal(t, "{0,1,3}", u.String())
	assert.True(t, u.Contains(3))
	assert.False(t, u.Contains(2))
	assert.True(t, NewSubset(1).SubsetOf(u))
	assert.True(t, Subset{}.SubsetOf(u))
	assert.False(t, NewSubset(2).SubsetOf(u))
	assert.Equal(t, "b,d", NewSubset(1, 3).Names([]string{"a", "b", "c", "d"}))
	assert.True(t, SubsetLess(NewSubset(2), NewSubset(0, 1)))
	assert.True(t, SubsetLess(NewSubset(0, 1), NewSubset(0, 2)))
}

func TestMultiIndex(t *testing.T) {
	k := MultiIndex{2, 0, 1}
	assert.Equal(t, Subset{0, 2}, k.Support())
	assert.Equal(t, 3, k.Total())
	assert.Equal(t, MultiIndex{2, 1, 1}, k.Add(1, 1))
	assert.Equal(t, MultiIndex{2, 0, 1}, k, "Add must not modify the receiver")
	assert.True(t, k.Within(NewSubset(0, 2)))
	assert.False(t, k.Within(NewSubset(0)))
	assert.Equal(t, []int{2, 1}, k.Restrict(NewSubset(0, 2)))
	assert.True(t, Less(MultiIndex{0, 0, 2}, MultiIndex{2, 0, 1}))
	assert.True(t, Less(MultiIndex{0, 1, 2}, MultiIndex{1, 0, 2}))

	p, err := ParseMultiIndex(k.Key())
	require.NoError(t, err)
	assert.Equal(t, k, p)
	_, err = ParseMultiIndex("1,x")
	assert.Error(t, err)
}

func TestNewSetErrors(t *testing.T) {
	_, err := NewSet(0, 1, 1)
	assert.Error(t, err)
	_, err = NewSet(2, 0, 1)
	assert.Error(t, err)
	_, err = NewSet(2, 1, 0)
	assert.Error(t, err)
}

func TestEmptyFrontier(t *testing.T) {
	s, err := NewSet(3, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []MultiIndex{{0, 0, 0}}, s.Candidates())
}

func TestAddAdmissibility(t *testing.T) {
	s, err := NewSet(2, 2, 3)
	require.NoError(t, err)

	var ie *InadmissibleIndexError
	err = s.Add(MultiIndex{1, 0})
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, MultiIndex{1, 0}, ie.Index)

	require.NoError(t, s.Add(MultiIndex{0, 0}))
	require.NoError(t, s.Add(MultiIndex{1, 0}))
	assert.Error(t, s.Add(MultiIndex{1, 0}), "duplicate")
	assert.Error(t, s.Add(MultiIndex{1, 1}), "missing parent (0,1)")
	require.NoError(t, s.Add(MultiIndex{0, 1}))
	require.NoError(t, s.Add(MultiIndex{1, 1}))
	// (2,1): 3*2 = 6 > 4
	require.NoError(t, s.Add(MultiIndex{2, 0}))
	assert.False(t, s.IsAdmissibleToAdd(MultiIndex{2, 1}))
	require.NoError(t, s.Add(MultiIndex{3, 0}))
	assert.False(t, s.IsAdmissibleToAdd(MultiIndex{4, 0}))
	assert.False(t, s.IsAdmissibleToAdd(MultiIndex{1}))

	assert.Equal(t, []Subset{{}, {0}, {1}, {0, 1}}, s.Subsets())
	assert.Equal(t, []int{3, 1}, s.Degrees(NewSubset(0, 1)))
	assert.Equal(t, []int{3}, s.Degrees(NewSubset(0)))
	assert.Equal(t, []MultiIndex{{0, 0}, {0, 1}}, s.Within(NewSubset(1)))
}

func TestMaxOrder(t *testing.T) {
	s, err := NewSet(3, 1, 4)
	require.NoError(t, err)
	require.NoError(t, s.Add(MultiIndex{0, 0, 0}))
	require.NoError(t, s.Add(MultiIndex{1, 0, 0}))
	require.NoError(t, s.Add(MultiIndex{0, 1, 0}))
	assert.False(t, s.IsAdmissibleToAdd(MultiIndex{1, 1, 0}))
	for _, k := range s.Candidates() {
		assert.Len(t, k.Support(), 1)
	}
}

func TestCandidatesOrder(t *testing.T) {
	s, err := NewSet(2, 2, 3)
	require.NoError(t, err)
	require.NoError(t, s.Add(MultiIndex{0, 0}))
	assert.Equal(t, []MultiIndex{{0, 1}, {1, 0}}, s.Candidates())
	require.NoError(t, s.Add(MultiIndex{1, 0}))
	require.NoError(t, s.Add(MultiIndex{0, 1}))
	assert.Equal(t, []MultiIndex{{0, 2}, {1, 1}, {2, 0}}, s.Candidates())
}

func TestClosure(t *testing.T) {
	s, err := NewSet(2, 2, 5)
	require.NoError(t, err)
	require.NoError(t, s.Add(MultiIndex{0, 0}))
	ks, err := s.Closure(MultiIndex{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []MultiIndex{{0, 1}, {1, 0}, {0, 2}, {1, 1}, {1, 2}}, ks)
	for _, k := range ks {
		require.NoError(t, s.Add(k))
	}

	_, err = s.Closure(MultiIndex{2, 2})
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	s, err := NewSet(2, 2, 3)
	require.NoError(t, err)
	require.NoError(t, s.Add(MultiIndex{0, 0}))
	c := s.Clone()
	require.NoError(t, c.Add(MultiIndex{1, 0}))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, c.Len())
}

// TestDownwardClosed grows random sets through the frontier and checks that
// every active index keeps all of its backward neighbors.
func TestDownwardClosed(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 20; trial++ {
		s, err := NewSet(4, 1+rng.IntN(3), 1+rng.IntN(6))
		require.NoError(t, err)
		for step := 0; step < 30; step++ {
			cand := s.Candidates()
			if len(cand) == 0 {
				break
			}
			require.NoError(t, s.Add(cand[rng.IntN(len(cand))]))
		}
		for _, k := range s.Active() {
			assert.LessOrEqual(t, len(k.Support()), s.MaxOrder())
			prod := 1
			for i, v := range k {
				prod *= v + 1
				if v > 0 {
					assert.True(t, s.Contains(k.Add(i, -1)), "%v missing parent", k)
				}
			}
			assert.LessOrEqual(t, prod, s.Bound())
		}
	}
}
