package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/authcore/internal/metrics"
)

func TestEveryCounterIsDefinedOnce(t *testing.T) {
	seen := map[metrics.ID]bool{}
	names := map[string]bool{}
	for _, def := range CounterDefs {
		if seen[def.ID] || names[def.Name] {
			t.Fatalf("duplicate definition %+v", def)
		}
		if !strings.HasPrefix(def.Name, "authcore_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected counter name %q", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}
	// Every ID except the latency histogram is a counter.
	if len(CounterDefs)+len(HistogramDefs) != metrics.Count {
		t.Fatalf("expected %d definitions, got %d", metrics.Count, len(CounterDefs)+len(HistogramDefs))
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [metrics.BucketCount]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}
