// Package telemetry exposes Prometheus metrics for runs, steps, sandbox
// executions and LLM spend on a private registry.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

const namespace = "insight"

// Metrics holds the collectors. It implements types.EventSink, the sandbox
// execution observer and the scheduler observer.
type Metrics struct {
	registry *prometheus.Registry

	stepDuration      *prometheus.HistogramVec
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	metricOutcomes    *prometheus.CounterVec
	metricDuration    prometheus.Histogram
	llmCost           prometheus.Counter
	schedulerProgress prometheus.Gauge
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of agent steps by step name.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"step"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_executions_total",
			Help:      "Snippet executions by mode and outcome.",
		}, []string{"mode", "outcome"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sandbox_execution_seconds",
			Help:      "Snippet execution time by mode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		metricOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_total",
			Help:      "Finished metrics by status (ok, alert, failed).",
		}, []string{"status"}),
		metricDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "metric_duration_seconds",
			Help:      "Wall time of one metric including insight synthesis.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		llmCost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Accumulated LLM spend in USD.",
		}),
		schedulerProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_progress_ratio",
			Help:      "Completed share of the metrics of the latest run.",
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Emit implements types.EventSink.
func (m *Metrics) Emit(e types.Event) {
	switch e.Status {
	case types.EventEnd:
		if e.Duration > 0 {
			m.stepDuration.WithLabelValues(e.Name).Observe(e.Duration.Seconds())
		}
	case types.EventProgress:
		if e.Total > 0 {
			m.schedulerProgress.Set(float64(e.Completed) / float64(e.Total))
		}
	}
}

// ObserveExecution records one sandbox execution.
func (m *Metrics) ObserveExecution(mode, outcome string, d time.Duration) {
	m.executions.WithLabelValues(mode, outcome).Inc()
	m.executionDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveMetric records one finished metric and its spend.
func (m *Metrics) ObserveMetric(status string, costUSD float64, d time.Duration) {
	m.metricOutcomes.WithLabelValues(status).Inc()
	m.metricDuration.Observe(d.Seconds())
	if costUSD > 0 {
		m.llmCost.Add(costUSD)
	}
}
