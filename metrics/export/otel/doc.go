// Package otel publishes Engine counters through an OpenTelemetry Meter.
//
// [NewExporter] registers an Int64ObservableCounter per counter and, for the
// hash latency histogram, one Int64ObservableGauge per cumulative bucket
// plus count and sum instruments. The caller owns the MeterProvider.
package otel
