// Package metrics exposes Prometheus collectors for the job pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Submission outcomes
const (
	OutcomeCreated        = "created"
	OutcomeCacheHit       = "cache_hit"
	OutcomeReanalysis     = "reanalysis"
	OutcomeRetry          = "retry"
	OutcomeAlreadyRunning = "already_running"
)

// Stage results
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics groups the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	submitted     *prometheus.CounterVec
	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_jobs_submitted_total",
			Help: "Uploads seen by the dedup router, by outcome.",
		}, []string{"outcome"}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_stage_runs_total",
			Help: "Pipeline stage executions, by stage and result.",
		}, []string{"stage", "result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_stage_duration_seconds",
			Help:    "Time spent in collaborator calls.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_runs_in_flight",
			Help: "Jobs currently holding an execution lease.",
		}),
	}
	reg.MustRegister(m.submitted, m.stageRuns, m.stageDuration, m.inFlight)
	return m
}

// Submitted counts one router outcome
func (m *Metrics) Submitted(outcome string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(outcome).Inc()
}

// StageDone records a finished stage
func (m *Metrics) StageDone(stage string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.stageRuns.WithLabelValues(stage, result).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(took.Seconds())
}

// LeaseAcquired increments the in-flight gauge
func (m *Metrics) LeaseAcquired() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// LeaseReleased decrements the in-flight gauge
func (m *Metrics) LeaseReleased() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
