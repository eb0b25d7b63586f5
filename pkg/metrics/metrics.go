package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dev/bravebird/site-smoke/pkg/models"
)

// Metrics holds the Prometheus collectors for smoke runs
type Metrics struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	progressUpdates prometheus.Counter
	runsStarted     prometheus.Counter
}

// New creates the collectors on a private registry
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "site_smoke",
			Name:      "runs_total",
			Help:      "Total number of finished smoke runs",
		},
		[]string{"outcome"},
	)

	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "site_smoke",
			Name:      "run_duration_seconds",
			Help:      "Duration of smoke runs in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	progressUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "site_smoke",
		Name:      "progress_updates_total",
		Help:      "Number of distinct loader progress values observed",
	})

	runsStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "site_smoke",
		Name:      "api_runs_started_total",
		Help:      "Number of smoke runs started through the API",
	})

	collectors := []prometheus.Collector{runs, runDuration, progressUpdates, runsStarted}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return &Metrics{
		registry:        registry,
		runs:            runs,
		runDuration:     runDuration,
		progressUpdates: progressUpdates,
		runsStarted:     runsStarted,
	}, nil
}

// Observe is a runner observer counting progress updates and finished runs
func (m *Metrics) Observe(ev models.RunEvent) {
	if m == nil {
		return
	}
	switch ev.Type {
	case models.EventProgress:
		m.progressUpdates.Inc()
	case models.EventRunFinished:
		m.runs.WithLabelValues(string(ev.Outcome)).Inc()
	}
}

// ObserveResult records the duration of a finished run
func (m *Metrics) ObserveResult(result *models.RunResult) {
	if m == nil || result == nil {
		return
	}
	m.runDuration.WithLabelValues(string(result.Outcome)).Observe(float64(result.TotalDuration) / 1000)
}

// RunStarted counts a run triggered through the API
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
