// Package prometheus renders authcore metrics in the Prometheus text
// exposition format.
//
// Counters are named authcore_*_total. The login latency histogram is
// authcore_login_latency_seconds. Nothing is registered globally; mount
// [Exporter.Handler] where it is needed.
package prometheus
