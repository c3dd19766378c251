// Package telemetry provides logging, metrics and tracing for pipeline runs.
//
// Logging uses zerolog. A Logger built from LoggingConfig is installed as the global
// zerolog logger so every package logs through github.com/rs/zerolog/log.
//
// Metrics, tracing and the events file are fed by the orchestrator's execution events:
// Metrics, SpanPublisher and JSONLinesPublisher each implement engine.EventPublisher,
// and Telemetry.Publishers combines the configured ones.
//
// # Metrics
//
// Prometheus counters and histograms per pipeline and stage. Runs take hours, so the
// registry can be served over HTTP while a run is in progress (ListenAddress) and is
// written to a node_exporter textfile when the process exits (TextfilePath).
//
// # Tracing
//
// OpenTelemetry spans, one per run with a child per stage, exported to stdout or an
// OTLP collector over gRPC. Span timestamps come from the events, not the exporter.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	tel.Logger.Install()
//
//	orch := engine.NewOrchestrator(resolver, runner,
//	    engine.WithEventPublisher(tel.Publishers()))
package telemetry
