// Package prometheus exposes Engine counters as a prometheus.Collector.
//
// [NewExporter] wraps an [authcore.Engine]. Register the collector with any
// registry, or mount [Exporter.Handler] which serves it from a registry of
// its own. Counter names are authcore_*_total; the single histogram is
// authcore_hash_latency_seconds.
package prometheus
