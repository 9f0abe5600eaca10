// Package metrics holds the Prometheus instruments of the dress-code service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes.
const (
	OutcomePass    = "pass"
	OutcomeFail    = "fail"
	OutcomeStopped = "stopped"
	OutcomeError   = "error"
)

// Metrics groups the pipeline and persistence instruments.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RunsTotal            *prometheus.CounterVec
	RunSeconds           prometheus.Histogram
	ClassifierCallsTotal *prometheus.CounterVec
	ClassifierSeconds    *prometheus.HistogramVec
	FeatureResultsTotal  *prometheus.CounterVec
	FailureRecordsTotal  *prometheus.CounterVec
	SupersededRunsTotal  prometheus.Counter
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dresscheck_runs_total",
				Help: "Pipeline runs by detected gender and outcome",
			},
			[]string{"gender", "outcome"},
		),
		RunSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dresscheck_run_seconds",
				Help:    "Wall time of a complete pipeline run",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		ClassifierCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dresscheck_classifier_calls_total",
				Help: "Classifier invocations by model and status",
			},
			[]string{"model", "status"},
		),
		ClassifierSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dresscheck_classifier_seconds",
				Help:    "Latency of a single classifier invocation",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"model"},
		),
		FeatureResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dresscheck_feature_results_total",
				Help: "Per-feature verdicts by gender and pass state",
			},
			[]string{"gender", "feature", "pass"},
		),
		FailureRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dresscheck_failure_records_total",
				Help: "Failure records persisted by gender",
			},
			[]string{"gender"},
		),
		SupersededRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dresscheck_superseded_runs_total",
				Help: "Queued photographs replaced by a newer submission",
			},
		),
	}
}

// ObserveClassifier records one classifier call.
func (m *Metrics) ObserveClassifier(model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ClassifierCallsTotal.WithLabelValues(model, status).Inc()
	m.ClassifierSeconds.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveRun records a finished run. gender is empty when the run failed before gender detection.
func (m *Metrics) ObserveRun(gender, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if gender == "" {
		gender = "unknown"
	}
	m.RunsTotal.WithLabelValues(gender, outcome).Inc()
	m.RunSeconds.Observe(d.Seconds())
}

// ObserveFeature records one feature verdict.
func (m *Metrics) ObserveFeature(gender, feature string, pass bool) {
	if m == nil {
		return
	}
	p := "false"
	if pass {
		p = "true"
	}
	m.FeatureResultsTotal.WithLabelValues(gender, feature, p).Inc()
}

// ObserveFailureRecord records a persisted failure.
func (m *Metrics) ObserveFailureRecord(gender string) {
	if m == nil {
		return
	}
	m.FailureRecordsTotal.WithLabelValues(gender).Inc()
}

// ObserveSuperseded records a queued run replaced before it started.
func (m *Metrics) ObserveSuperseded() {
	if m == nil {
		return
	}
	m.SupersededRunsTotal.Inc()
}
