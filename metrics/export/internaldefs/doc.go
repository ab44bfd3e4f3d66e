// Package internaldefs holds the metric names and bucket bounds shared by
// the Prometheus and OpenTelemetry exporters, so both publish the same
// series for the same Engine counter.
package internaldefs
