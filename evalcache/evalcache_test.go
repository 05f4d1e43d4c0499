package evalcache

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/rwcarlsen/hdmr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSave(t *testing.T) {
	c, err := OpenInMemory()
	require.NoError(t, err)
	defer c.Close()

	key := hdmr.Hash([]float64{1, 2})
	_, ok, err := c.Load(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Save(key, []float64{3, -0.5}))
	val, ok, err := c.Load(key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float64{3, -0.5}, val)

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPersists(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int64
	m := hdmr.Func(func(x []float64) float64 {
		calls.Add(1)
		return x[0] * x[1]
	})
	pts := []hdmr.Point{hdmr.NewPoint([]float64{1, 2}), hdmr.NewPoint([]float64{3, 4})}

	c, err := Open(dir, nil)
	require.NoError(t, err)
	_, err = hdmr.NewStoreEvaler(nil, c).Eval(context.Background(), m, pts...)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(dir, nil)
	require.NoError(t, err)
	defer c.Close()
	results, err := hdmr.NewStoreEvaler(nil, c).Eval(context.Background(), m, pts...)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []float64{2}, results[0].Val)
	assert.Equal(t, []float64{12}, results[1].Val)
}

func TestDecodeCorrupt(t *testing.T) {
	_, err := decode([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = Open("", nil)
	assert.Error(t, err)
}
