// Package metrics holds the Prometheus collectors for the engine.
//
// Every method is safe to call on a nil *Metrics, so components can be built
// without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	cycles        *prometheus.CounterVec
	dispatched    *prometheus.CounterVec
	processed     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	usageDenied   *prometheus.CounterVec
	learningRuns  *prometheus.CounterVec
	memoryOps     *prometheus.CounterVec
	parseFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketingd_orchestrator_cycles_total",
				Help: "Orchestration cycles by outcome",
			},
			[]string{"outcome"},
		),
		dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketingd_jobs_dispatched_total",
				Help: "Jobs enqueued by the orchestrator",
			},
			[]string{"kind"},
		),
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketingd_jobs_processed_total",
				Help: "Jobs handled by the worker pool by outcome",
			},
			[]string{"kind", "outcome"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketingd_job_duration_seconds",
				Help:    "Handler execution time",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"kind"},
		),
		usageDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketingd_usage_denied_total",
				Help: "Quota checks that returned allowed=false",
			},
			[]string{"feature"},
		),
		learningRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketingd_learning_runs_total",
				Help: "Learning loop runs by outcome",
			},
			[]string{"outcome"},
		),
		memoryOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketingd_memory_ops_total",
				Help: "Memory store operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		parseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketingd_parse_failures_total",
				Help: "Reasoning responses that could not be parsed",
			},
			[]string{"component"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.dispatched, m.processed, m.jobDuration,
			m.usageDenied, m.learningRuns, m.memoryOps, m.parseFailures)
	}
	return m
}

func (m *Metrics) CycleFinished(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JobDispatched(kind string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(kind).Inc()
}

// JobProcessed records a finished handler run. Skipped jobs pass a zero duration.
func (m *Metrics) JobProcessed(kind, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(kind, outcome).Inc()
	if took > 0 {
		m.jobDuration.WithLabelValues(kind).Observe(took.Seconds())
	}
}

func (m *Metrics) UsageDenied(feature string) {
	if m == nil {
		return
	}
	m.usageDenied.WithLabelValues(feature).Inc()
}

func (m *Metrics) LearningRun(outcome string) {
	if m == nil {
		return
	}
	m.learningRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MemoryOp(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.memoryOps.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ParseFailure(component string) {
	if m == nil {
		return
	}
	m.parseFailures.WithLabelValues(component).Inc()
}
