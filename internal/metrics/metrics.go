// Package metrics collects Prometheus metrics for a jscryptoscan run.
//
// Metrics are registered on a private registry rather than the global
// default one, so that tests and multiple runs in one process never collide.
// The CLI writes the registry to a node_exporter textfile when
// --metrics-file is set.
//
// Every method is safe to call on a nil *Metrics, which records nothing.
// Components therefore accept an optional *Metrics without nil checks at
// each call site.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nao1215/jscryptoscan/internal/model"
)

// Fetch kinds.
const (
	FetchPage   = "page"
	FetchScript = "script"
)

// Fetch results.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultSkipped   = "skipped"
	ResultDiscarded = "discarded"
)

// Inference outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeCacheHit = "cache_hit"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	fetchesTotal      *prometheus.CounterVec
	inferenceTotal    *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	findingsTotal     *prometheus.CounterVec
	runsTotal         *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jscryptoscan_fetches_total",
				Help: "Page and script requests by outcome.",
			},
			[]string{"kind", "result"},
		),
		inferenceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jscryptoscan_inference_requests_total",
				Help: "Remote inference calls by analysis kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		inferenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jscryptoscan_inference_duration_seconds",
				Help:    "Time spent per analysis kind, including retries.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jscryptoscan_cache_lookups_total",
				Help: "Inference cache lookups by result.",
			},
			[]string{"result"},
		),
		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jscryptoscan_local_findings_total",
				Help: "Local signature findings by risk level.",
			},
			[]string{"risk"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jscryptoscan_runs_total",
				Help: "Completed target runs by outcome.",
			},
			[]string{"outcome"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jscryptoscan_step_duration_seconds",
				Help:    "Pipeline step durations by step and result.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"step", "result"},
		),
	}

	m.registry.MustRegister(
		m.fetchesTotal,
		m.inferenceTotal,
		m.inferenceDuration,
		m.cacheLookups,
		m.findingsTotal,
		m.runsTotal,
		m.stepDuration,
	)
	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetch counts one page or script request.
func (m *Metrics) ObserveFetch(kind, result string) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(kind, result).Inc()
}

// ObserveInference counts one analysis kind and records its duration.
// Cache hits are counted but not timed.
func (m *Metrics) ObserveInference(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.inferenceTotal.WithLabelValues(kind, outcome).Inc()
	if outcome != OutcomeCacheHit {
		m.inferenceDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// ObserveCache counts one cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveFindings counts local findings by risk level.
func (m *Metrics) ObserveFindings(findings []model.AlgorithmFinding) {
	if m == nil {
		return
	}
	for _, f := range findings {
		m.findingsTotal.WithLabelValues(f.RiskLevel.String()).Inc()
	}
}

// ObserveRun counts one completed target run.
func (m *Metrics) ObserveRun(outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStep records one pipeline step.
func (m *Metrics) ObserveStep(step, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, result).Observe(d.Seconds())
}

// WriteTextfile writes all metrics in the text exposition format to path,
// atomically replacing any existing file.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
