package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/scenepipe/scenepipe/pkg/engine"
)

// Common attribute keys for scenepipe tracing.
var (
	AttrRunID      = attribute.Key("run.id")
	AttrPipeline   = attribute.Key("pipeline.name")
	AttrStageID    = attribute.Key("stage.id")
	AttrRuntime    = attribute.Key("stage.runtime")
	AttrOutcome    = attribute.Key("outcome")
	AttrErrMessage = attribute.Key("error.message")
)

// Tracer wraps the OpenTelemetry tracer with scenepipe-specific functionality.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// NewTracer creates a new tracer with the given configuration.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		// No-op provider
		return &Tracer{
			provider: sdktrace.NewTracerProvider(),
			tracer:   otel.Tracer(serviceName),
			config:   cfg,
		}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			attribute.String("environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		// Spans are generated but not exported.
		exporter = nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		batchOpts := []sdktrace.BatchSpanProcessorOption{}
		if cfg.MaxExportBatchSize > 0 {
			batchOpts = append(batchOpts, sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize))
		}
		if cfg.ExportTimeout > 0 {
			batchOpts = append(batchOpts, sdktrace.WithExportTimeout(cfg.ExportTimeout))
		}
		opts = append(opts, sdktrace.WithBatcher(exporter, batchOpts...))
	}

	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return NewTracerWithProvider(provider, serviceName, cfg), nil
}

// NewTracerWithProvider wraps an existing tracer provider.
func NewTracerWithProvider(provider *sdktrace.TracerProvider, serviceName string, cfg TracingConfig) *Tracer {
	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		config:   cfg,
	}
}

// createOTLPExporter creates an OTLP gRPC exporter.
func createOTLPExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent("scenepipe")),
	}

	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	return otlptracegrpc.New(context.Background(), opts...)
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// Shutdown gracefully shuts down the tracer, flushing any pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// ForceFlush forces all pending spans to be exported immediately.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.ForceFlush(ctx)
}

// RecordError records an error on the span.
func RecordError(span trace.Span, msg string) {
	span.SetAttributes(AttrErrMessage.String(msg))
	span.SetStatus(codes.Error, msg)
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// SpanPublisher turns execution events into spans: one "run" span per run with a
// child "stage" span per stage. Span timestamps are taken from the events.
type SpanPublisher struct {
	tracer *Tracer

	mu   sync.Mutex
	runs map[string]runSpans
}

type runSpans struct {
	ctx    context.Context
	span   trace.Span
	stages map[string]trace.Span
}

// NewSpanPublisher creates a span publisher on t.
func NewSpanPublisher(t *Tracer) *SpanPublisher {
	return &SpanPublisher{tracer: t, runs: make(map[string]runSpans)}
}

// Publish starts or ends the span an event belongs to.
// This implements the engine.EventPublisher interface.
func (p *SpanPublisher) Publish(ctx context.Context, event *engine.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Type {
	case engine.EventTypeRunStarted:
		spanCtx, span := p.tracer.Start(ctx, "run "+event.Pipeline,
			trace.WithTimestamp(event.Timestamp),
			trace.WithAttributes(AttrRunID.String(event.RunID), AttrPipeline.String(event.Pipeline)),
		)
		p.runs[event.RunID] = runSpans{ctx: spanCtx, span: span, stages: make(map[string]trace.Span)}

	case engine.EventTypeStageStarted:
		run, ok := p.runs[event.RunID]
		if !ok {
			return fmt.Errorf("stage %s started in unknown run %s", event.StageID, event.RunID)
		}
		_, span := p.tracer.Start(run.ctx, "stage "+event.StageID,
			trace.WithTimestamp(event.Timestamp),
			trace.WithAttributes(
				AttrRunID.String(event.RunID),
				AttrStageID.String(event.StageID),
				AttrRuntime.String(event.Runtime),
			),
		)
		run.stages[event.StageID] = span

	case engine.EventTypeStageCompleted, engine.EventTypeStageFailed:
		run, ok := p.runs[event.RunID]
		if !ok {
			return fmt.Errorf("stage %s finished in unknown run %s", event.StageID, event.RunID)
		}
		span, ok := run.stages[event.StageID]
		if !ok {
			return fmt.Errorf("stage %s finished without starting", event.StageID)
		}
		delete(run.stages, event.StageID)
		endSpan(span, event)

	case engine.EventTypeRunCompleted, engine.EventTypeRunAborted:
		run, ok := p.runs[event.RunID]
		if !ok {
			return fmt.Errorf("unknown run %s", event.RunID)
		}
		delete(p.runs, event.RunID)
		for _, span := range run.stages {
			span.End(trace.WithTimestamp(event.Timestamp))
		}
		endSpan(run.span, event)
	}
	return nil
}

func endSpan(span trace.Span, event *engine.Event) {
	span.SetAttributes(AttrOutcome.String(string(event.Outcome)))
	if event.Outcome == engine.OutcomeSuccess {
		RecordSuccess(span)
	} else {
		RecordError(span, event.Message)
	}
	span.End(trace.WithTimestamp(event.Timestamp))
}
