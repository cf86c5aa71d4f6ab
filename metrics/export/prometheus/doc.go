// Package prometheus exposes objperm engine metrics as a client_golang
// Collector.
//
// [NewCollector] wraps an [objperm.Engine]. Register it on a registry and
// serve the registry with promhttp.HandlerFor. Counters are grouped into
// labelled families: objperm_mutations_total{op}, objperm_checks_total{result},
// objperm_rejections_total{reason}, objperm_failures_total{source} and
// objperm_notifications_total. The check latency histogram is
// objperm_check_latency_seconds and is present only when latency histograms
// are enabled.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
