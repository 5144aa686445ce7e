package internaldefs

import "github.com/MrEthical07/authcore/internal/metrics"

// CounterDef names one exported counter.
type CounterDef struct {
	ID   metrics.ID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   metrics.ID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: metrics.LoginSuccess, Name: "authcore_login_success_total", Help: "Logins that issued a token pair."},
	{ID: metrics.LoginFailure, Name: "authcore_login_failure_total", Help: "Rejected credential checks."},
	{ID: metrics.LoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Logins refused by the attempt budget."},
	{ID: metrics.LoginTwoFactorRequired, Name: "authcore_login_2fa_required_total", Help: "Logins that returned a temporary token."},
	{ID: metrics.TwoFactorSuccess, Name: "authcore_2fa_success_total", Help: "Completed second-factor challenges."},
	{ID: metrics.TwoFactorFailure, Name: "authcore_2fa_failure_total", Help: "Rejected second-factor codes."},
	{ID: metrics.TwoFactorRateLimited, Name: "authcore_2fa_rate_limited_total", Help: "Second-factor attempts refused by the attempt budget."},
	{ID: metrics.TemporaryTokenReplay, Name: "authcore_temporary_token_replay_total", Help: "Temporary tokens presented after use."},
	{ID: metrics.BackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: metrics.BackupCodeRegenerated, Name: "authcore_backup_code_regenerated_total", Help: "Backup code set replacements."},
	{ID: metrics.TwoFactorEnabled, Name: "authcore_2fa_enabled_total", Help: "Second-factor enrolments."},
	{ID: metrics.TwoFactorDisabled, Name: "authcore_2fa_disabled_total", Help: "Second-factor removals."},
	{ID: metrics.RefreshSuccess, Name: "authcore_refresh_success_total", Help: "Access tokens minted from a refresh token."},
	{ID: metrics.RefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: metrics.SessionCreated, Name: "authcore_session_created_total", Help: "Sessions opened."},
	{ID: metrics.SessionEvicted, Name: "authcore_session_evicted_total", Help: "Sessions revoked by the concurrent-session cap."},
	{ID: metrics.SessionExpired, Name: "authcore_session_expired_total", Help: "Sessions moved to expired."},
	{ID: metrics.SessionRevoked, Name: "authcore_session_revoked_total", Help: "Sessions revoked."},
	{ID: metrics.SessionInactive, Name: "authcore_session_inactive_total", Help: "Sessions ended by principal deactivation."},
	{ID: metrics.Logout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: metrics.LogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: metrics.SuspiciousActivity, Name: "authcore_suspicious_activity_total", Help: "Suspicious-activity reports."},
	{ID: metrics.PasswordUpgraded, Name: "authcore_password_upgraded_total", Help: "Stored password hashes upgraded on login."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: metrics.ValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access validation latency."},
}

// HistogramBounds are the upper bounds of the fixed buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [metrics.BucketCount]uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	var running uint64
	for i := range raw {
		running += raw[i]
		out[i] = running
	}
	return out
}
