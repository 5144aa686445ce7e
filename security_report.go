package authcore

import "time"

// SecurityReport is a read-only snapshot of the engine's security posture.
type SecurityReport struct {
	SigningAlgorithm        string
	AccessTTL               time.Duration
	RefreshTTL              time.Duration
	TemporaryTTL            time.Duration
	SessionTTL              time.Duration
	Argon2                  PasswordConfigReport
	PasswordUpgradeOnLogin  bool
	TwoFactorWindowSteps    uint
	BackupCodeCount         int
	SingleUseTemporaryToken bool
	MaxConcurrentSessions   int
	RateLimitingActive      bool
	IPThrottleActive        bool
	SuspiciousRevocation    bool
	DurableStorage          bool
	AuditEnabled            bool
	Findings                LintWarnings
}

// PasswordConfigReport mirrors the argon2id parameters in effect.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecurityReport summarizes the effective configuration together with its lint findings.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := &e.config

	rateLimiting := cfg.RateLimit.MaxLoginAttempts > 0 && cfg.RateLimit.LoginCooldownDuration > 0 &&
		cfg.RateLimit.MaxTwoFactorAttempts > 0 && cfg.RateLimit.TwoFactorCooldownDuration > 0

	return SecurityReport{
		SigningAlgorithm: cfg.JWT.SigningMethod,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		TemporaryTTL:     cfg.JWT.TemporaryTTL,
		SessionTTL:       cfg.Session.TTL,
		Argon2: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		PasswordUpgradeOnLogin:  cfg.Password.UpgradeOnLogin,
		TwoFactorWindowSteps:    cfg.TwoFactor.Window,
		BackupCodeCount:         cfg.TwoFactor.BackupCodeCount,
		SingleUseTemporaryToken: cfg.TwoFactor.SingleUseTemporaryToken,
		MaxConcurrentSessions:   cfg.Session.MaxConcurrentSessions,
		RateLimitingActive:      rateLimiting,
		IPThrottleActive:        cfg.RateLimit.EnableIPThrottle,
		SuspiciousRevocation:    cfg.Suspicious.RevokeOnDetection,
		DurableStorage:          e.durable,
		AuditEnabled:            cfg.Audit.Enabled,
		Findings:                cfg.Lint(),
	}
}
