package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCountersConcurrent(t *testing.T) {
	m := New(Config{Enabled: true})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(LoginSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(LoginSuccess); got != 16000 {
		t.Fatalf("expected 16000, got %d", got)
	}
	m.Add(SessionEvicted, 3)
	if got := m.Snapshot().Counters[SessionEvicted]; got != 3 {
		t.Fatalf("expected 3 evictions, got %d", got)
	}
}

func TestDisabledMetricsAreInert(t *testing.T) {
	m := New(Config{})
	m.Inc(LoginFailure)
	m.Observe(ValidateLatency, time.Millisecond)
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(LoginFailure)
	if nilMetrics.Enabled() {
		t.Fatal("nil metrics must report disabled")
	}
}

func TestLatencyBuckets(t *testing.T) {
	m := New(Config{Enabled: true, EnableLatencyHistograms: true})
	for _, d := range []time.Duration{
		time.Millisecond, 7 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond,
		80 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, time.Second,
	} {
		m.Observe(ValidateLatency, d)
	}
	m.Observe(LoginSuccess, time.Second)

	buckets := m.Snapshot().Histograms[ValidateLatency]
	if len(buckets) != BucketCount {
		t.Fatalf("expected %d buckets, got %d", BucketCount, len(buckets))
	}
	for i, n := range buckets {
		if n != 1 {
			t.Fatalf("bucket %d: expected 1, got %d", i, n)
		}
	}
}
