package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the assessment engine.
type Metrics struct {
	Runs               *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	ControlEvaluations *prometheus.CounterVec
}

// New creates a new Metrics instance with all assessment metrics registered.
func New() *Metrics {
	return &Metrics{
		Runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_assessment_runs_total",
			Help: "Total assessment runs by outcome",
		}, []string{"outcome"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexus_assessment_run_duration_seconds",
			Help:    "Duration of assessment runs end to end",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}),
		ControlEvaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_control_evaluations_total",
			Help: "Total per-control evaluations by finding status",
		}, []string{"status"}),
	}
}

// ObserveRun records a finished run and its duration.
func (m *Metrics) ObserveRun(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(time.Since(start).Seconds())
}

// IncEvaluation records one control evaluation outcome.
func (m *Metrics) IncEvaluation(status string) {
	if m == nil {
		return
	}
	m.ControlEvaluations.WithLabelValues(status).Inc()
}
