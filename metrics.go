package authcore

import "github.com/MrEthical07/authcore/internal/metrics"

// MetricID identifies one engine counter or histogram.
type MetricID = metrics.ID

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
// Histogram buckets are not cumulative.
type MetricsSnapshot = metrics.Snapshot

const (
	MetricLoginSuccess           = metrics.LoginSuccess
	MetricLoginFailure           = metrics.LoginFailure
	MetricLoginRateLimited       = metrics.LoginRateLimited
	MetricLoginTwoFactorRequired = metrics.LoginTwoFactorRequired
	MetricTwoFactorSuccess       = metrics.TwoFactorSuccess
	MetricTwoFactorFailure       = metrics.TwoFactorFailure
	MetricTwoFactorRateLimited   = metrics.TwoFactorRateLimited
	MetricTemporaryTokenReplay   = metrics.TemporaryTokenReplay
	MetricBackupCodeUsed         = metrics.BackupCodeUsed
	MetricBackupCodeRegenerated  = metrics.BackupCodeRegenerated
	MetricTwoFactorEnabled       = metrics.TwoFactorEnabled
	MetricTwoFactorDisabled      = metrics.TwoFactorDisabled
	MetricRefreshSuccess         = metrics.RefreshSuccess
	MetricRefreshFailure         = metrics.RefreshFailure
	MetricSessionCreated         = metrics.SessionCreated
	MetricSessionEvicted         = metrics.SessionEvicted
	MetricSessionExpired         = metrics.SessionExpired
	MetricSessionRevoked         = metrics.SessionRevoked
	MetricSessionInactive        = metrics.SessionInactive
	MetricLogout                 = metrics.Logout
	MetricLogoutAll              = metrics.LogoutAll
	MetricSuspiciousActivity     = metrics.SuspiciousActivity
	MetricPasswordUpgraded       = metrics.PasswordUpgraded
	MetricValidateLatency        = metrics.ValidateLatency
)
