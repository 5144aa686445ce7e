// Package prometheus renders engine metrics in the Prometheus text format.
//
// [NewPrometheusExporter] wraps an [authcore.Engine] and exposes an
// [http.Handler]. Login, second-factor, refresh and session lifecycle counters
// are folded into labelled families (authcore_logins_total{result=...},
// authcore_session_transitions_total{state=...} and so on). The remaining
// counters keep their own authcore_*_total series, and the one histogram is
// authcore_validate_latency_seconds. Nothing is registered globally; callers
// mount the Handler.
package prometheus
