package sampler

import (
	"log/slog"

	"github.com/rwcarlsen/hdmr"
	"github.com/rwcarlsen/hdmr/trace"
)

type Option func(s *Sampler)

// WithEvaler sets the evaluator used to run the model.  The default is a
// ParallelEvaler running BatchSize evaluations at once.
func WithEvaler(ev hdmr.Evaler) Option {
	return func(s *Sampler) { s.ev = ev }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) { s.log = l }
}

// WithTrace adds a trace sink.  It is closed by Close.
func WithTrace(sink trace.Sink) Option {
	return func(s *Sampler) { s.sinks = append(s.sinks, sink) }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Sampler) { s.metrics = m }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(s *Sampler) { s.runID = id }
}
