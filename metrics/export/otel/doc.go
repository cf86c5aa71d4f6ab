// Package otel exposes objperm engine metrics through OpenTelemetry.
//
// [NewOTelExporter] registers one Int64ObservableCounter per metric family,
// with the family label (op, result, reason, source) as an attribute, and a
// cumulative bucket gauge keyed by le for check latency. One callback reads
// [objperm.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
