// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// helpers for conversations.
//
// Metrics are registered with a caller supplied prometheus.Registerer so
// independent conversations can share or isolate their collectors. A nil
// *Metrics is a valid no-op recorder.
package telemetry
