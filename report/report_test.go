package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rwcarlsen/hdmr/index"
	"github.com/rwcarlsen/hdmr/surrogate"
	"github.com/rwcarlsen/hdmr/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var names = []string{"x1", "x2"}

func indices() surrogate.Indices {
	return surrogate.Indices{
		Subsets:  []index.Subset{index.NewSubset(0), index.NewSubset(1), index.NewSubset(0, 1)},
		Values:   [][]float64{{0.75, 0}, {0.25, 1}, {0, 0}},
		Residual: []float64{0, 0},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, names, indices()))
	want := strings.Join([]string{
		"subset,S0,S1",
		"x1,0.75,0",
		"x2,0.25,1",
		`"x1,x2",0,0`,
		"residual,0,0",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestWriteHistory(t *testing.T) {
	recs := []trace.Record{
		{Round: 1, State: "check", Active: 3, Subsets: 3, Samples: 3, Max: 0.5, Total: []float64{2}, Verdict: "continue"},
		{Round: 2, State: "check", Active: 5, Subsets: 3, Samples: 5, Max: 1e-9, Verdict: "converged"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteHistory(&buf, recs))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "round,state,active,subsets,samples,max,variance,verdict", lines[0])
	assert.Equal(t, "1,check,3,3,3,0.5,2,continue", lines[1])
	assert.Equal(t, "2,check,5,3,5,1e-09,NaN,converged", lines[2])
}

func TestIndexPlot(t *testing.T) {
	ix := indices()
	p, err := IndexPlot(names, ix, 0, 0.1)
	require.NoError(t, err)
	assert.Equal(t, "Sobol indices, output 0", p.Title.Text)

	_, err = IndexPlot(names, ix, 2, 0)
	assert.Error(t, err)
	_, err = IndexPlot(names, ix, 1, 2)
	assert.Error(t, err)
}

func TestPlotIndices(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ix.png", "ix.svg"} {
		path := filepath.Join(dir, name)
		require.NoError(t, PlotIndices(path, names, indices(), 0))
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, fi.Size() > 0)
	}
}
