package telemetry

import (
	"context"
	"errors"

	"github.com/scenepipe/scenepipe/pkg/engine"
)

// Telemetry combines logging, tracing, metrics and the events file.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *JSONLinesPublisher
	Config  *Config
}

// newTracer is replaced in tests.
var newTracer = NewTracer

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := newTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		_ = logger.Close()
		return nil, err
	}

	t := &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}

	if cfg.EventsFile != "" {
		events, err := OpenJSONLinesPublisher(cfg.EventsFile)
		if err != nil {
			_ = tracer.Shutdown(context.Background())
			_ = logger.Close()
			return nil, err
		}
		t.Events = events
	}

	return t, nil
}

// Publishers returns the engine event publishers for the configured sinks.
// Run and stage progress is already logged by the orchestrator, so the logger
// only receives failures.
func (t *Telemetry) Publishers() engine.EventPublishers {
	pubs := engine.EventPublishers{
		Filtered(NewLogPublisher(t.Logger), FilterByType(engine.EventTypeStageFailed)),
		t.Metrics,
	}
	if t.Config.Tracing.Enabled {
		pubs = append(pubs, NewSpanPublisher(t.Tracer))
	}
	if t.Events != nil {
		pubs = append(pubs, t.Events)
	}
	return pubs
}

// WithContext adds the logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(ctx)
}

// Shutdown flushes and closes every telemetry component. It reports all failures.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.Metrics.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if t.Events != nil {
		if err := t.Events.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.Logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
