// Package metrics provides lock-free counters and a validate-latency histogram.
//
// Counters live in cache-line-padded uint64 slots and are incremented with
// sync/atomic. The histogram has 8 fixed buckets (<=5ms ... +Inf). The write
// path does not allocate.
//
// Export (Prometheus, OTel) lives in metrics/export and reads Snapshot values.
// This package performs no I/O and exposes no global registry.
package metrics
