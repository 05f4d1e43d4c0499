// Command hdmr builds HDMR surrogates of the analytic benchmark functions
// and reports their Sobol sensitivity indices.
//
//	hdmr run --config run.yaml --export surrogate.xml --csv indices.csv
//	hdmr run --bench Ishigami --plot ishigami.png
//	hdmr bench --poly 6
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/rwcarlsen/hdmr/logging"
	"github.com/spf13/cobra"
)

type logFlags struct {
	level string
	file  string
	json  bool
}

func (f *logFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.level, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&f.file, "log-file", "", "also append JSON log records to this file")
	cmd.PersistentFlags().BoolVar(&f.json, "log-json", false, "write console log records as JSON")
}

func (f *logFlags) logger(w io.Writer) (*slog.Logger, func() error, error) {
	return logging.New(logging.Config{Level: f.level, File: f.file, JSON: f.json, Writer: w})
}

func newRootCmd() *cobra.Command {
	lf := &logFlags{}
	root := &cobra.Command{
		Use:           "hdmr",
		Short:         "Adaptive HDMR surrogates and Sobol sensitivity indices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	lf.register(root)
	root.AddCommand(newRunCmd(lf), newBenchCmd(lf))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "hdmr:", err)
		os.Exit(1)
	}
}
