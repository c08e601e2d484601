// Package metrics exports run progress in the Prometheus exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatload/pkg/types"
)

const namespace = "chatload"

// Recorder turns outcomes into Prometheus series
// TECHNICAL DISCOVERY: Private registry keeps test runs and embedded use free
// of the process-global collectors
type Recorder struct {
	registry *prometheus.Registry

	checks     *prometheus.CounterVec
	iterations *prometheus.HistogramVec
	active     *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Named checks recorded, by result.",
		}, []string{"scenario", "check", "result"}),
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Wall time of one scenario iteration.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"scenario"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_virtual_users",
			Help:      "Virtual users currently looping.",
		}, []string{"scenario"}),
	}

	r.registry.MustRegister(r.checks, r.iterations, r.active)
	return r
}

// Observe records every check of a finished iteration
func (r *Recorder) Observe(outcome *types.Outcome) {
	for _, check := range outcome.Checks {
		result := "pass"
		if !check.Passed {
			result = "fail"
		}
		r.checks.WithLabelValues(outcome.Scenario, check.Name, result).Inc()
	}
	r.iterations.WithLabelValues(outcome.Scenario).Observe(outcome.Duration.Seconds())
}

func (r *Recorder) VirtualUserStarted(scenario string) {
	r.active.WithLabelValues(scenario).Inc()
}

func (r *Recorder) VirtualUserStopped(scenario string) {
	r.active.WithLabelValues(scenario).Dec()
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry at /metrics
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
