package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{},
			Histograms: map[authcore.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 7,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, `authcore_logins_total{result="success"} 7`) {
		t.Fatalf("expected login success sample in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_validate_latency_seconds_bucket{le=\"0.005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_validate_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
}

func TestRenderGroupsFlowOutcomesIntoFamilies(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginFailure:         3,
				authcore.MetricTemporaryTokenReplay: 1,
				authcore.MetricRefreshFailure:       4,
				authcore.MetricSessionRevoked:       5,
				authcore.MetricSessionEvicted:       2,
			},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	out := exp.Render()
	for _, want := range []string{
		`authcore_logins_total{result="failure"} 3`,
		`authcore_two_factor_challenges_total{result="replayed"} 1`,
		`authcore_refreshes_total{result="failure"} 4`,
		`authcore_session_transitions_total{state="revoked"} 5`,
		`authcore_session_transitions_total{state="active"} 0`,
		"authcore_session_evicted_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "authcore_login_failure_total") || strings.Contains(out, "authcore_session_revoked_total") {
		t.Fatalf("grouped counters must not also be exported on their own:\n%s", out)
	}
	if n := strings.Count(out, "# TYPE authcore_logins_total counter"); n != 1 {
		t.Fatalf("expected one TYPE line for the login family, got %d", n)
	}
}

func TestEveryCounterIsExportedOnce(t *testing.T) {
	seen := map[metrics.ID]int{}
	for _, f := range families {
		for _, m := range f.members {
			seen[m.id]++
		}
	}
	for _, def := range internaldefs.CounterDefs {
		if !grouped[def.ID] {
			seen[def.ID]++
		}
	}
	for _, def := range internaldefs.CounterDefs {
		if seen[def.ID] != 1 {
			t.Fatalf("counter %s exported %d times", def.Name, seen[def.ID])
		}
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:   1000,
				authcore.MetricLoginFailure:   40,
				authcore.MetricRefreshSuccess: 800,
				authcore.MetricRefreshFailure: 10,
				authcore.MetricSessionCreated: 800,
				authcore.MetricSessionRevoked: 20,
				authcore.MetricSessionEvicted: 3,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
		dropped: 0,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
