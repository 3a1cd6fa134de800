// Package internaldefs holds the metric names, help text and bucket
// bounds shared by the Prometheus and OpenTelemetry exporters.
package internaldefs
