package authcore

import (
	"fmt"
	"time"
)

// LintSeverity grades a configuration warning.
type LintSeverity string

const (
	LintInfo LintSeverity = "info"
	LintWarn LintSeverity = "warn"
	LintHigh LintSeverity = "high"
)

// LintWarning is one advisory finding about a configuration that validates but
// is probably not what a production deployment wants.
type LintWarning struct {
	Code     string       `json:"code"`
	Severity LintSeverity `json:"severity"`
	Message  string       `json:"message"`
}

// LintWarnings is the result of Config.Lint.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// AtLeast returns the warnings whose severity is sev or higher.
func (ws LintWarnings) AtLeast(sev LintSeverity) LintWarnings {
	rank := map[LintSeverity]int{LintInfo: 0, LintWarn: 1, LintHigh: 2}
	var out LintWarnings
	for _, w := range ws {
		if rank[w.Severity] >= rank[sev] {
			out = append(out, w)
		}
	}
	return out
}

// Lint reports risky but valid settings. It never fails; call Validate for that.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code string, sev LintSeverity, format string, args ...interface{}) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if c.JWT.SigningMethod == "hs256" {
		add("hs256_signing", LintInfo, "hs256 shares one secret between issuers and verifiers; prefer ed25519 when tokens leave the process")
	}
	if c.JWT.Leeway > 30*time.Second {
		add("leeway_large", LintWarn, "JWT leeway %s exceeds 30s", c.JWT.Leeway)
	}
	if c.JWT.AccessTTL > 15*time.Minute {
		add("access_ttl_long", LintWarn, "access tokens live %s; revocation takes effect only on server-side validation", c.JWT.AccessTTL)
	}
	if c.JWT.RefreshTTL > 30*24*time.Hour {
		add("refresh_ttl_long", LintWarn, "refresh tokens live %s", c.JWT.RefreshTTL)
	}
	if c.JWT.TemporaryTTL > 10*time.Minute {
		add("temporary_ttl_long", LintWarn, "temporary tokens live %s", c.JWT.TemporaryTTL)
	}
	if c.Session.TTL < c.JWT.RefreshTTL {
		add("session_shorter_than_refresh", LintInfo, "sessions expire after %s, before refresh tokens (%s)", c.Session.TTL, c.JWT.RefreshTTL)
	}
	if c.Session.MaxConcurrentSessions == 0 {
		add("session_cap_disabled", LintWarn, "concurrent session cap disabled")
	}
	if c.TwoFactor.Window > 1 {
		add("totp_window_wide", LintWarn, "TOTP window accepts codes up to %s from now", time.Duration(c.TwoFactor.Window*c.TwoFactor.Period)*time.Second)
	}
	if !c.TwoFactor.SingleUseTemporaryToken {
		add("temporary_token_reusable", LintHigh, "temporary tokens can be replayed until they expire")
	}
	if c.RateLimit.MaxLoginAttempts == 0 && c.RateLimit.MaxTwoFactorAttempts == 0 {
		add("rate_limits_disabled", LintHigh, "login and two-factor rate limits are both disabled")
	} else if c.RateLimit.MaxLoginAttempts > 0 && !c.RateLimit.EnableIPThrottle {
		add("ip_throttle_disabled", LintInfo, "login attempts are limited per identifier only")
	}
	if !c.Suspicious.RevokeOnDetection {
		add("suspicious_revocation_disabled", LintInfo, "suspicious activity is reported but sessions are kept")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintWarn, "audit events are discarded")
	}
	if !c.Password.UpgradeOnLogin {
		add("password_upgrade_disabled", LintInfo, "legacy password hashes are never re-hashed")
	}
	return ws
}
