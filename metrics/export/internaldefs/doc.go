// Package internaldefs maps engine counters onto exported metric families
// and holds the latency bucket bounds, so the Prometheus and OTel exporters
// expose the same series.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
