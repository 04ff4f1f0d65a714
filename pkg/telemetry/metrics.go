package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfroyo/stead/pkg/engine"
)

// Metrics records run and action outcomes in a Prometheus registry.
// It implements engine.ActionObserver and engine.RunObserver. A disabled
// instance accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastRun        prometheus.Gauge
	actions        *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	failedProjects prometheus.Gauge
	plannedActions prometheus.Gauge

	mu       sync.Mutex
	started  time.Time
	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of apply runs by final status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of apply runs in seconds",
				Buckets:   buckets,
			},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last apply run finished",
			},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of actions by phase, kind and final status",
			},
			[]string{"phase", "kind", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of executed actions in seconds",
				Buckets:   buckets,
			},
			[]string{"phase", "kind"},
		),
		failedProjects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "failed_projects",
				Help:      "Number of projects that failed in the last apply run",
			},
		),
		plannedActions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "planned_actions",
				Help:      "Number of actions in the last applied plan",
			},
		),
	}

	registry.MustRegister(
		m.runs,
		m.runDuration,
		m.lastRun,
		m.actions,
		m.actionDuration,
		m.failedProjects,
		m.plannedActions,
	)

	return m, nil
}

// Enabled reports whether metrics are recorded.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// Registry returns the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RunStarted implements engine.RunObserver.
func (m *Metrics) RunStarted(_ context.Context, plan *engine.Plan, _ bool) error {
	if m.registry == nil {
		return nil
	}
	m.mu.Lock()
	m.started = time.Now()
	m.mu.Unlock()

	m.plannedActions.Set(float64(len(plan.Actions)))
	return nil
}

// ActionFinished implements engine.ActionObserver.
func (m *Metrics) ActionFinished(_ context.Context, _ string, a *engine.Action, elapsed time.Duration) {
	if m.registry == nil {
		return
	}
	phase := a.Phase.String()
	kind := a.Kind.Name()

	m.actions.WithLabelValues(phase, kind, string(a.Status.State)).Inc()
	if a.Status.State == engine.ActionDone || a.Status.State == engine.ActionFailed {
		m.actionDuration.WithLabelValues(phase, kind).Observe(elapsed.Seconds())
	}
}

// RunFinished implements engine.RunObserver. The registry is written to the
// configured textfile, if any.
func (m *Metrics) RunFinished(_ context.Context, result *engine.ApplyResult) error {
	if m.registry == nil {
		return nil
	}

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started.IsZero() {
		started = result.StartedAt
	}

	m.runs.WithLabelValues(string(result.Status)).Inc()
	m.runDuration.Observe(time.Since(started).Seconds())
	m.lastRun.SetToCurrentTime()
	m.failedProjects.Set(float64(len(result.FailedProjects)))

	if m.config.Textfile == "" {
		return nil
	}
	return m.WriteTextfile(m.config.Textfile)
}

// WriteTextfile writes the registry to path in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
