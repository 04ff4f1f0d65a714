// Package telemetry provides the observability stack of stead: structured
// logging with zerolog, tracing with OpenTelemetry and Prometheus metrics.
//
// # Logging
//
// NewLogger builds a zerolog logger in console or JSON format. Packages take a
// zerolog.Logger and derive component loggers from it.
//
// # Tracing
//
// NewTracer installs the global trace provider. The engine starts its spans
// (stead.apply, stead.phase, stead.action) through otel.Tracer, so they are
// exported by whichever exporter is configured:
//
//   - none: spans are discarded (default)
//   - stdout: spans are pretty-printed to the log output
//   - otlp: spans are sent to an OTLP gRPC collector
//
// # Metrics
//
// Metrics observes every apply run and action. stead is not a long-running
// server, so instead of an HTTP endpoint the registry is written after each
// run to a node-exporter textfile when telemetry.metrics.textfile is set:
//
//	stead_runs_total{status="partial"} 1
//	stead_actions_total{kind="shell",phase="setup",status="failed"} 1
//	stead_failed_projects 1
package telemetry
