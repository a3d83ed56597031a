// Package prometheus exposes authcore engine metrics through
// github.com/prometheus/client_golang.
//
// [NewCollector] wraps an [authcore.Engine] as a prometheus.Collector that
// callers register wherever they like. Counter names are authcore_*_total;
// the two latency histograms are authcore_validate_session_latency_seconds and
// authcore_check_permission_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry on its own.
//   - Mutate engine state.
package prometheus
