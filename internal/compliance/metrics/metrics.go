package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the compliance configuration module.
type Metrics struct {
	Toggles        *prometheus.CounterVec
	GateChecks     *prometheus.CounterVec
	ToggleDuration prometheus.Histogram
}

// New creates a new Metrics instance with all configuration metrics registered.
func New() *Metrics {
	return &Metrics{
		Toggles: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_config_toggles_total",
			Help: "Total configuration toggle operations by action",
		}, []string{"action"}),
		GateChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_gate_checks_total",
			Help: "Total gate evaluations by result",
		}, []string{"result"}),
		ToggleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexus_config_toggle_duration_seconds",
			Help:    "Duration of toggle operations including audit append",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ObserveToggle records a completed toggle operation.
func (m *Metrics) ObserveToggle(action string, start time.Time) {
	if m == nil {
		return
	}
	m.Toggles.WithLabelValues(action).Inc()
	m.ToggleDuration.Observe(time.Since(start).Seconds())
}

// IncGateCheck records a gate evaluation outcome.
func (m *Metrics) IncGateCheck(enabled bool) {
	if m == nil {
		return
	}
	result := "denied"
	if enabled {
		result = "allowed"
	}
	m.GateChecks.WithLabelValues(result).Inc()
}
