package main

import (
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"

	"github.com/rwcarlsen/hdmr/bench"
	"github.com/rwcarlsen/hdmr/sampler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBenchCmd(lf *logFlags) *cobra.Command {
	var list bool
	jobs := runtime.NumCPU()
	cfg := sampler.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "bench [name...]",
		Short: "Compare computed and exact indices of the benchmark functions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				for _, fn := range bench.AllFuncs {
					fmt.Fprintln(cmd.OutOrStdout(), fn.Name())
				}
				return nil
			}
			fns := bench.AllFuncs
			if len(args) > 0 {
				fns = nil
				for _, name := range args {
					fn, err := bench.ByName(name)
					if err != nil {
						return err
					}
					fns = append(fns, fn)
				}
			}
			log, closelog, err := lf.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closelog()

			results := make([]*sampler.Result, len(fns))
			maxerrs := make([]float64, len(fns))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(jobs, 1))
			for i, fn := range fns {
				g.Go(func() error {
					res, maxerr, err := bench.Benchmark(ctx, fn, cfg, sampler.WithLogger(log.With("bench", fn.Name())))
					if err != nil {
						return fmt.Errorf("%s: %w", fn.Name(), err)
					}
					results[i], maxerrs[i] = res, maxerr
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "func\tconverged\trounds\tsamples\tmean\tvariance\tmax index error")
			for i, fn := range fns {
				row(w, fn, results[i], maxerrs[i])
			}
			return w.Flush()
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&list, "list", false, "list the benchmark functions")
	fl.IntVarP(&jobs, "jobs", "j", jobs, "benchmarks run at once")
	fl.IntVar(&cfg.PolynomialOrder, "poly", cfg.PolynomialOrder, "polynomial order")
	fl.IntVar(&cfg.MaxSobolOrder, "order", cfg.MaxSobolOrder, "maximum interaction order")
	fl.IntVar(&cfg.MaxRuns, "max-runs", cfg.MaxRuns, "round budget")
	fl.Float64Var(&cfg.RelTolerance, "tol", cfg.RelTolerance, "relative convergence tolerance")
	fl.Float64Var(&cfg.ProgressParam, "progress", cfg.ProgressParam, "fraction of the frontier refined per round")
	return cmd
}

func row(w io.Writer, fn bench.Func, res *sampler.Result, maxerr float64) {
	fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%.6g (%.6g)\t%.6g (%.6g)\t%.3g\n",
		fn.Name(), res.Converged, res.Rounds, res.Samples,
		res.Surrogate.Mean()[0], fn.Mean(),
		res.Surrogate.TotalVariance()[0], fn.Variance(),
		maxerr)
}
