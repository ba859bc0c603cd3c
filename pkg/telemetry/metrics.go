package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects prometheus metrics over deployment runs. With collection
// disabled every method is a no-op, so callers never branch.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	toolCalls     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "runs_started_total",
				Help:      "Total number of orchestration runs started",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of orchestration runs completed",
			},
			[]string{"mode", "outcome"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "phase_duration_seconds",
				Help:      "Wall-clock duration of each deployment phase",
				Buckets:   []float64{1, 5, 15, 60, 120, 300, 600, 1200},
			},
			[]string{"phase", "outcome"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "external_tool_calls_total",
				Help:      "Total invocations of external tools by name",
			},
			[]string{"tool"},
		),
	}

	registry.MustRegister(m.runsStarted, m.runsCompleted, m.phaseDuration, m.toolCalls)
	return m, nil
}

// Registry exposes the underlying registry for scraping or test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RunStarted records the start of a run in the given mode (apply, destroy).
func (m *Metrics) RunStarted(mode string) {
	if m.registry == nil {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
}

// RunCompleted records the outcome of a run.
func (m *Metrics) RunCompleted(mode string, success bool) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(mode, outcome(success)).Inc()
}

// PhaseObserved records the duration and outcome of one deployment phase.
func (m *Metrics) PhaseObserved(phase string, d time.Duration, success bool) {
	if m.registry == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase, outcome(success)).Observe(d.Seconds())
}

// ToolInvoked counts one external tool invocation.
func (m *Metrics) ToolInvoked(tool string) {
	if m.registry == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
