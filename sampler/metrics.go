package sampler

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the progress of a run.  A nil *Metrics records nothing.
type Metrics struct {
	rounds        prometheus.Counter
	evaluations   prometheus.Counter
	failures      *prometheus.CounterVec
	active        prometheus.Gauge
	frontier      prometheus.Gauge
	maxRelative   prometheus.Gauge
	totalVariance *prometheus.GaugeVec
	roundDuration prometheus.Histogram
}

// NewMetrics registers the sampler metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rounds: f.NewCounter(prometheus.CounterOpts{
			Name: "hdmr_rounds_total",
			Help: "Completed adaptive rounds",
		}),
		evaluations: f.NewCounter(prometheus.CounterOpts{
			Name: "hdmr_model_evaluations_total",
			Help: "Successful model evaluations",
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hdmr_failures_total",
			Help: "Round failures by kind",
		}, []string{"kind"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "hdmr_active_indices",
			Help: "Active multi-indices",
		}),
		frontier: f.NewGauge(prometheus.GaugeOpts{
			Name: "hdmr_frontier_size",
			Help: "Admissible candidates on the frontier",
		}),
		maxRelative: f.NewGauge(prometheus.GaugeOpts{
			Name: "hdmr_max_relative_estimate",
			Help: "Largest relative variance estimate over the frontier",
		}),
		totalVariance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hdmr_total_variance",
			Help: "Total variance of the surrogate per output",
		}, []string{"output"}),
		roundDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hdmr_round_duration_seconds",
			Help:    "Wall time of an adaptive round",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

func (m *Metrics) evaluated(n int) {
	if m == nil {
		return
	}
	m.evaluations.Add(float64(n))
}

func (m *Metrics) failed(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) round(seconds float64, active, frontier int, maxRel float64, total []float64) {
	if m == nil {
		return
	}
	m.rounds.Inc()
	m.roundDuration.Observe(seconds)
	m.active.Set(float64(active))
	m.frontier.Set(float64(frontier))
	m.maxRelative.Set(maxRel)
	for o, v := range total {
		m.totalVariance.WithLabelValues(strconv.Itoa(o)).Set(v)
	}
}
