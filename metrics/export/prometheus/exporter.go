package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// family folds outcome counters of one flow into a single labelled series.
type family struct {
	name    string
	help    string
	label   string
	members []member
}

type member struct {
	id    metrics.ID
	value string
}

var families = []family{
	{
		name: "authcore_logins_total", help: "Login attempts by outcome.", label: "result",
		members: []member{
			{metrics.LoginSuccess, "success"},
			{metrics.LoginTwoFactorRequired, "two_factor_required"},
			{metrics.LoginFailure, "failure"},
			{metrics.LoginRateLimited, "rate_limited"},
		},
	},
	{
		name: "authcore_two_factor_challenges_total", help: "Second-factor challenges by outcome.", label: "result",
		members: []member{
			{metrics.TwoFactorSuccess, "success"},
			{metrics.TwoFactorFailure, "failure"},
			{metrics.TwoFactorRateLimited, "rate_limited"},
			{metrics.TemporaryTokenReplay, "replayed"},
		},
	},
	{
		name: "authcore_refreshes_total", help: "Refresh attempts by outcome.", label: "result",
		members: []member{
			{metrics.RefreshSuccess, "success"},
			{metrics.RefreshFailure, "failure"},
		},
	},
	{
		name: "authcore_session_transitions_total", help: "Session lifecycle transitions by resulting state.", label: "state",
		members: []member{
			{metrics.SessionCreated, "active"},
			{metrics.SessionExpired, "expired"},
			{metrics.SessionRevoked, "revoked"},
			{metrics.SessionInactive, "inactive"},
		},
	},
}

var grouped = func() map[metrics.ID]bool {
	out := map[metrics.ID]bool{}
	for _, f := range families {
		for _, m := range f.members {
			out[m.id] = true
		}
	}
	return out
}()

// PrometheusExporter renders engine metrics in the Prometheus text exposition
// format. Login, second-factor, refresh and session lifecycle counters are
// exported as labelled families; the rest keep their own series.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter reads from engine on every scrape.
func NewPrometheusExporter(engine *authcore.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource reads from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render over HTTP.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the exposition text, or "" when metrics are disabled.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	for _, f := range families {
		writeHeader(&b, f.name, f.help, "counter")
		for _, m := range f.members {
			writeSample(&b, f.name, f.label+`="`+m.value+`"`, snapshot.Counters[m.id])
		}
	}

	for _, def := range internaldefs.CounterDefs {
		if grouped[def.ID] {
			continue
		}
		writeHeader(&b, def.Name, def.Help, "counter")
		writeSample(&b, def.Name, "", snapshot.Counters[def.ID])
	}

	for _, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		writeHistogram(&b, def.Name, def.Help, cumulative)
	}

	writeHeader(&b, "authcore_audit_dropped_total", "Audit events dropped on a full dispatcher buffer.", "counter")
	writeSample(&b, "authcore_audit_dropped_total", "", dropped)

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	b.WriteString("# TYPE " + name + " " + kind + "\n")
}

func writeSample(b *strings.Builder, name, labels string, value uint64) {
	b.WriteString(name)
	if labels != "" {
		b.WriteString("{" + labels + "}")
	}
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [metrics.BucketCount]uint64) {
	writeHeader(b, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		writeSample(b, name+"_bucket", `le="`+le+`"`, cumulative[i])
	}
	writeSample(b, name+"_count", "", cumulative[len(cumulative)-1])
	// Durations are not summed.
	writeSample(b, name+"_sum", "", 0)
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
