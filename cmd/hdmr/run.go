package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rwcarlsen/hdmr"
	"github.com/rwcarlsen/hdmr/bench"
	"github.com/rwcarlsen/hdmr/config"
	"github.com/rwcarlsen/hdmr/dist"
	"github.com/rwcarlsen/hdmr/evalcache"
	"github.com/rwcarlsen/hdmr/report"
	"github.com/rwcarlsen/hdmr/sampler"
	"github.com/rwcarlsen/hdmr/surrogate"
	"github.com/rwcarlsen/hdmr/trace"
	"github.com/spf13/cobra"
)

type runFlags struct {
	config   string
	bench    string
	db       string
	export   string
	format   string
	csv      string
	history  string
	plot     string
	metrics  string
	cache    string
	maxRate  float64
	validate int
}

func newRunCmd(lf *logFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build a surrogate and compute its sensitivity indices",
		Long: `Build an HDMR surrogate adaptively and print its Sobol indices.

The run is described by a YAML file (--config).  Without one, --bench picks a
benchmark function and the default sampler settings.  --bench also overrides
the model named in the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), lf)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "run description (YAML)")
	fl.StringVar(&f.bench, "bench", "", "benchmark function to sample")
	fl.StringVar(&f.db, "db", "", "record the round history in this sqlite database")
	fl.StringVar(&f.export, "export", "", "write the surrogate to this file")
	fl.StringVar(&f.format, "format", "", "export format, xml or json (default from the file extension)")
	fl.StringVar(&f.csv, "csv", "", "write the sensitivity indices to this CSV file")
	fl.StringVar(&f.history, "history", "", "write the convergence history to this CSV file")
	fl.StringVar(&f.plot, "plot", "", "save a bar chart of the indices of the first output")
	fl.StringVar(&f.metrics, "metrics-file", "", "write prometheus metrics in text format to this file")
	fl.StringVar(&f.cache, "cache", "", "keep model responses in this directory and reuse them")
	fl.Float64Var(&f.maxRate, "max-rate", 0, "limit model evaluations per second (0 means no limit)")
	fl.IntVar(&f.validate, "validate", 0, "compare surrogate and model at this many random points")
	return cmd
}

func (f *runFlags) load() (*config.File, bench.Func, error) {
	cf := &config.File{Sampler: sampler.DefaultConfig()}
	if f.config != "" {
		var err error
		if cf, err = config.Load(f.config); err != nil {
			return nil, nil, err
		}
	}
	name := cf.Model.Bench
	if f.bench != "" {
		name = f.bench
	}
	if name == "" {
		return nil, nil, fmt.Errorf("no model: set model.bench in the config or pass --bench")
	}
	fn, err := bench.ByName(name)
	if err != nil {
		return nil, nil, err
	}
	if f.config == "" {
		for _, v := range fn.Variables() {
			cf.Variables = append(cf.Variables, config.Variable{Name: v.Name, Dist: v.Spec})
		}
	}
	if n := len(fn.Variables()); len(cf.Variables) != n {
		return nil, nil, fmt.Errorf("model %s takes %d variables, config declares %d", name, n, len(cf.Variables))
	}
	return cf, fn, nil
}

func (f *runFlags) run(ctx context.Context, stdout, stderr io.Writer, lf *logFlags) error {
	log, closelog, err := lf.logger(stderr)
	if err != nil {
		return err
	}
	defer closelog()

	cf, fn, err := f.load()
	if err != nil {
		return err
	}
	space, err := cf.Space()
	if err != nil {
		return err
	}

	var ev hdmr.Evaler
	if f.cache != "" {
		c, err := evalcache.Open(f.cache, log)
		if err != nil {
			return err
		}
		defer c.Close()
		ev = hdmr.NewStoreEvaler(hdmr.ParallelEvaler{MaxGoroutines: cf.Sampler.BatchSize}, c)
	}

	mem := &trace.Memory{}
	sinks := []trace.Sink{mem}
	if f.db != "" {
		db, err := trace.OpenDB(f.db)
		if err != nil {
			return err
		}
		sinks = append(sinks, db)
	}
	opts := []sampler.Option{sampler.WithLogger(log), sampler.WithTrace(trace.Multi(sinks...))}
	if ev != nil {
		opts = append(opts, sampler.WithEvaler(ev))
	}
	var reg *prometheus.Registry
	if f.metrics != "" {
		reg = prometheus.NewRegistry()
		opts = append(opts, sampler.WithMetrics(sampler.NewMetrics(reg)))
	}

	model := hdmr.NewModelLogger(bench.Model(fn), log)
	var m hdmr.Model = model
	if f.maxRate > 0 {
		m = hdmr.NewLimited(model, f.maxRate, cf.Sampler.BatchSize)
	}
	s, err := sampler.New(space, m, cf.Sampler, opts...)
	if err != nil {
		trace.Multi(sinks...).Close()
		return err
	}
	defer s.Close()

	log.Info("starting run", "bench", fn.Name(), "vars", space.Len(), "poly", cf.Sampler.PolynomialOrder, "order", cf.Sampler.MaxSobolOrder)
	res, err := s.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("run finished", "converged", res.Converged, "rounds", res.Rounds, "samples", res.Samples, "evaluations", model.Count())
	if res.Warning != "" {
		log.Warn("convergence not met", "reason", res.Warning)
	}

	names := space.Names()
	printSummary(stdout, names, res)

	if f.validate > 0 {
		rms, maxerr, err := validate(ctx, space, model, res.Surrogate, f.validate, cf.Sampler.Seed)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "validation (%d points): rms=%.6g max=%.6g\n", f.validate, rms, maxerr)
	}
	if err := f.write(names, res, mem.Records); err != nil {
		return err
	}
	if reg != nil {
		if err := prometheus.WriteToTextfile(f.metrics, reg); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(w io.Writer, names []string, res *sampler.Result) {
	status := "converged"
	if !res.Converged {
		status = "not converged: " + res.Warning
	}
	fmt.Fprintf(w, "run %s: %s after %d rounds, %d samples\n", res.RunID, status, res.Rounds, res.Samples)
	mean, total := res.Surrogate.Mean(), res.Surrogate.TotalVariance()
	for o := range mean {
		fmt.Fprintf(w, "output %d: mean=%.8g variance=%.8g residual=%.3g\n", o, mean[o], total[o], res.Indices.Residual[o])
		for _, i := range res.Indices.Ranked(o) {
			fmt.Fprintf(w, "  S[%s] = %.6f\n", res.Indices.Subsets[i].Names(names), res.Indices.Values[i][o])
		}
	}
}

// validate returns the root mean square and largest absolute difference
// between the surrogate and the model at n random points of space.
func validate(ctx context.Context, space *dist.Space, m hdmr.Model, h *surrogate.HDMR, n int, seed uint64) (rms, maxerr float64, err error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	count := 0
	for _, x := range space.SampleN(rng, n) {
		y, err := m.Evaluate(ctx, x)
		if err != nil {
			return 0, 0, err
		}
		for o, v := range h.Evaluate(x) {
			d := v - y[o]
			rms += d * d
			maxerr = math.Max(maxerr, math.Abs(d))
			count++
		}
	}
	return math.Sqrt(rms / float64(count)), maxerr, nil
}

func (f *runFlags) write(names []string, res *sampler.Result, recs []trace.Record) error {
	if f.export != "" {
		format := f.format
		if format == "" {
			format = strings.TrimPrefix(filepath.Ext(f.export), ".")
		}
		err := writeFile(f.export, func(w io.Writer) error {
			switch format {
			case "xml":
				return res.Surrogate.Export().WriteXML(w)
			case "json":
				return res.Surrogate.Export().WriteJSON(w)
			}
			return fmt.Errorf("unknown export format %q", format)
		})
		if err != nil {
			return err
		}
	}
	if f.csv != "" {
		err := writeFile(f.csv, func(w io.Writer) error { return report.WriteCSV(w, names, res.Indices) })
		if err != nil {
			return err
		}
	}
	if f.history != "" {
		err := writeFile(f.history, func(w io.Writer) error { return report.WriteHistory(w, recs) })
		if err != nil {
			return err
		}
	}
	if f.plot != "" {
		return report.PlotIndices(f.plot, names, res.Indices, 0)
	}
	return nil
}

func writeFile(path string, fn func(w io.Writer) error) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(out); err != nil {
		out.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return out.Close()
}
