// Package monitor exports pipeline run metrics and reads them back.
//
// Collector publishes Prometheus series for scraping, RunMetrics records
// the same events as OpenTelemetry instruments, and Client queries a
// Prometheus-compatible API (Prometheus, VictoriaMetrics) for the
// aggregates shown by "docpipe stats".
package monitor
