// Package report renders the results of a run: sensitivity index tables,
// convergence histories and bar charts of the indices.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/rwcarlsen/hdmr/surrogate"
	"github.com/rwcarlsen/hdmr/trace"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', 12, 64) }

// WriteCSV writes one row per subset holding its index for every output,
// followed by a residual row.  Subsets are labeled with the variable names.
func WriteCSV(w io.Writer, names []string, ix surrogate.Indices) error {
	cw := csv.NewWriter(w)
	header := []string{"subset"}
	for o := range ix.Residual {
		header = append(header, fmt.Sprintf("S%d", o))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, u := range ix.Subsets {
		row := []string{u.Names(names)}
		for _, v := range ix.Values[i] {
			row = append(row, ftoa(v))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	row := []string{"residual"}
	for _, v := range ix.Residual {
		row = append(row, ftoa(v))
	}
	if err := cw.Write(row); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteHistory writes the per-round convergence history of recs.  The
// variance column reports the first output.
func WriteHistory(w io.Writer, recs []trace.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"round", "state", "active", "subsets", "samples", "max", "variance", "verdict"}); err != nil {
		return err
	}
	for _, r := range recs {
		v := math.NaN()
		if len(r.Total) > 0 {
			v = r.Total[0]
		}
		row := []string{
			strconv.Itoa(r.Round),
			r.State,
			strconv.Itoa(r.Active),
			strconv.Itoa(r.Subsets),
			strconv.Itoa(r.Samples),
			ftoa(r.Max),
			ftoa(v),
			r.Verdict,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// IndexPlot builds a bar chart of the indices of output o, largest first.
// Subsets whose index is below min are left out.
func IndexPlot(names []string, ix surrogate.Indices, o int, min float64) (*plot.Plot, error) {
	if o < 0 || o >= len(ix.Residual) {
		return nil, fmt.Errorf("report: output %d out of range [0, %d)", o, len(ix.Residual))
	}
	var vals plotter.Values
	var labels []string
	for _, i := range ix.Ranked(o) {
		if ix.Values[i][o] < min {
			continue
		}
		vals = append(vals, ix.Values[i][o])
		labels = append(labels, ix.Subsets[i].Names(names))
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("report: no index of output %d reaches %g", o, min)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Sobol indices, output %d", o)
	p.Y.Label.Text = "S"
	p.Y.Min = 0

	bars, err := plotter.NewBarChart(vals, vg.Points(20))
	if err != nil {
		return nil, err
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = plotutil.Color(0)
	p.Add(bars)
	p.NominalX(labels...)
	return p, nil
}

// PlotIndices saves the chart of IndexPlot to path.  The image format
// follows the file extension (png, svg, pdf, ...).
func PlotIndices(path string, names []string, ix surrogate.Indices, o int) error {
	p, err := IndexPlot(names, ix, o, 0)
	if err != nil {
		return err
	}
	width := vg.Length(len(ix.Subsets)+2) * vg.Centimeter
	if width < 10*vg.Centimeter {
		width = 10 * vg.Centimeter
	}
	return p.Save(width, 8*vg.Centimeter, path)
}
