// Package otel publishes authcore metrics through an OpenTelemetry Meter.
//
// Each counter becomes an Int64ObservableCounter. Histogram buckets are
// exported as cumulative Int64ObservableGauge instruments, one per bound.
// The caller owns the MeterProvider.
package otel
