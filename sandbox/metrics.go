package sandbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "scriptbox"

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	// Execution metrics
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	InFlight          prometheus.Gauge

	// Worker metrics
	WorkersAbandoned prometheus.Gauge
	MemoryLimitHits  prometheus.Counter

	// Host bridge metrics
	FetchRequests *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg. A nil reg falls back
// to the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "executions_total",
				Help:      "Total number of executions by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "execution_duration_seconds",
				Help:      "Wall-clock duration of executions as seen by the caller",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "executions_in_flight",
				Help:      "Number of executions currently awaiting an outcome",
			},
		),
		WorkersAbandoned: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "workers_abandoned",
				Help:      "Number of worker goroutines still running after their caller gave up",
			},
		),
		MemoryLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "memory_limit_hits_total",
				Help:      "Total number of near-heap-limit callback invocations",
			},
		),
		FetchRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fetch_requests_total",
				Help:      "Total number of fetch calls made by scripts, by result",
			},
			[]string{"result"},
		),
	}
}

// observe records the outcome of one execution
func (m *Metrics) observe(backend string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.Executions.WithLabelValues(backend, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}
