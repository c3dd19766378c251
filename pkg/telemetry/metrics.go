package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/scenepipe/scenepipe/pkg/engine"
)

// Metrics provides Prometheus metrics for pipeline runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	// Stage metrics
	stagesStarted   *prometheus.CounterVec
	stagesCompleted *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec

	// Error metrics
	errorsByOutcome *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
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

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of pipeline runs started",
			},
			[]string{"pipeline"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of pipeline runs finished, by outcome",
			},
			[]string{"pipeline", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   buckets,
			},
			[]string{"pipeline", "outcome"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),

		stagesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_started_total",
				Help:      "Total number of stages started",
			},
			[]string{"pipeline", "stage", "runtime"},
		),
		stagesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_completed_total",
				Help:      "Total number of stages finished, by outcome",
			},
			[]string{"pipeline", "stage", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of stage execution in seconds",
				Buckets:   buckets,
			},
			[]string{"pipeline", "stage"},
		),

		errorsByOutcome: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed stages by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.stagesStarted,
		m.stagesCompleted,
		m.stageDuration,
		m.errorsByOutcome,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(pipeline string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(pipeline).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished run with its outcome and duration.
func (m *Metrics) RecordRunCompleted(pipeline string, outcome engine.Outcome, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(pipeline, string(outcome)).Inc()
	m.runDuration.WithLabelValues(pipeline, string(outcome)).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Stage Metrics

// RecordStageStarted increments the counter for started stages.
func (m *Metrics) RecordStageStarted(pipeline, stage, runtime string) {
	if m.stagesStarted == nil {
		return
	}
	m.stagesStarted.WithLabelValues(pipeline, stage, runtime).Inc()
}

// RecordStageCompleted records a finished stage with its outcome and duration.
func (m *Metrics) RecordStageCompleted(pipeline, stage string, outcome engine.Outcome, duration time.Duration) {
	if m.stagesCompleted == nil {
		return
	}
	m.stagesCompleted.WithLabelValues(pipeline, stage, string(outcome)).Inc()
	m.stageDuration.WithLabelValues(pipeline, stage).Observe(duration.Seconds())
	if outcome != engine.OutcomeSuccess {
		m.errorsByOutcome.WithLabelValues(string(outcome)).Inc()
	}
}

// Publish records the metrics of an execution event.
// This implements the engine.EventPublisher interface.
func (m *Metrics) Publish(_ context.Context, event *engine.Event) error {
	switch event.Type {
	case engine.EventTypeRunStarted:
		m.RecordRunStarted(event.Pipeline)
	case engine.EventTypeRunCompleted, engine.EventTypeRunAborted:
		m.RecordRunCompleted(event.Pipeline, event.Outcome, event.Duration)
	case engine.EventTypeStageStarted:
		m.RecordStageStarted(event.Pipeline, event.StageID, event.Runtime)
	case engine.EventTypeStageCompleted, engine.EventTypeStageFailed:
		m.RecordStageCompleted(event.Pipeline, event.StageID, event.Outcome, event.Duration)
	}
	return nil
}

// Registry returns the metrics registry, or nil if metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics while a run is in
// progress. It does nothing when no listen address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	return nil
}

// WriteTextfile writes the current metrics to the configured textfile, if any.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.config.TextfilePath, m.registry)
}

// Shutdown stops the metrics server and writes the textfile.
func (m *Metrics) Shutdown(ctx context.Context) error {
	var errs []error
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.WriteTextfile(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
