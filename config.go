package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/totp"
)

// Config groups every engine setting. Build validates it once; it is treated
// as immutable afterwards.
type Config struct {
	JWT        JWTConfig        `yaml:"jwt" toml:"jwt"`
	Session    SessionConfig    `yaml:"session" toml:"session"`
	Suspicious SuspiciousConfig `yaml:"suspicious" toml:"suspicious"`
	TwoFactor  TwoFactorConfig  `yaml:"two_factor" toml:"two_factor"`
	Password   PasswordConfig   `yaml:"password" toml:"password"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
	Attempts   AttemptConfig    `yaml:"attempts" toml:"attempts"`
	Audit      AuditConfig      `yaml:"audit" toml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Redis      RedisConfig      `yaml:"redis" toml:"redis"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and lifetimes. Key material is never read
// from config files; it is injected by the caller or from the environment.
type JWTConfig struct {
	AccessTTL     time.Duration `yaml:"access_ttl" toml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" toml:"refresh_ttl"`
	TemporaryTTL  time.Duration `yaml:"temporary_ttl" toml:"temporary_ttl"`
	SigningMethod string        `yaml:"signing_method" toml:"signing_method"` // "hs256" (default) or "ed25519"
	PrivateKey    []byte        `yaml:"-" toml:"-"`
	PublicKey     []byte        `yaml:"-" toml:"-"`
	Issuer        string        `yaml:"issuer" toml:"issuer"`
	Audience      string        `yaml:"audience" toml:"audience"`
	Leeway        time.Duration `yaml:"leeway" toml:"leeway"`
	KeyID         string        `yaml:"key_id" toml:"key_id"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side session lifetime and the concurrent cap.
// MaxConcurrentSessions of 0 disables the cap.
type SessionConfig struct {
	TTL                   time.Duration `yaml:"ttl" toml:"ttl"`
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions" toml:"max_concurrent_sessions"`
	RetentionWindow       time.Duration `yaml:"retention_window" toml:"retention_window"`
	SweepInterval         time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
	SweepBatch            int           `yaml:"sweep_batch" toml:"sweep_batch"`
}

// SuspiciousConfig tunes suspicious-activity detection.
type SuspiciousConfig struct {
	Window               time.Duration `yaml:"window" toml:"window"`
	MaxDistinctOrigins   int           `yaml:"max_distinct_origins" toml:"max_distinct_origins"`
	MaxDistinctLocations int           `yaml:"max_distinct_locations" toml:"max_distinct_locations"`
	RevokeOnDetection    bool          `yaml:"revoke_on_detection" toml:"revoke_on_detection"`
	KeepRecent           int           `yaml:"keep_recent" toml:"keep_recent"`
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP generation and validation. Window is counted in
// Period-sized steps on either side of now.
type TwoFactorConfig struct {
	totp.Config             `yaml:",inline"`
	SingleUseTemporaryToken bool `yaml:"single_use_temporary_token" toml:"single_use_temporary_token"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters. UpgradeOnLogin re-hashes bcrypt
// and weaker argon2id hashes after a successful login when the identity
// provider implements identity.PasswordUpdater.
type PasswordConfig struct {
	password.Config `yaml:",inline"`
	UpgradeOnLogin  bool `yaml:"upgrade_on_login" toml:"upgrade_on_login"`
}

/*
====================================
RATE LIMIT / ATTEMPTS
====================================
*/

// RateLimitConfig bounds failed password and second-factor attempts. A zero
// budget disables that limit.
type RateLimitConfig = rate.Config

// AttemptConfig controls the default Redis login-attempt log.
type AttemptConfig struct {
	StreamMaxLen  int64         `yaml:"stream_max_len" toml:"stream_max_len"`
	FailureWindow time.Duration `yaml:"failure_window" toml:"failure_window"`
}

/*
====================================
AUDIT / METRICS
====================================
*/

// AuditConfig controls asynchronous audit delivery.
type AuditConfig = audit.Config

// MetricsConfig toggles in-process counters.
type MetricsConfig = metrics.Config

/*
====================================
BACKENDS
====================================
*/

// RedisConfig names the key prefix shared by every Redis-backed component. URL
// is only read by callers that dial the client themselves.
type RedisConfig struct {
	URL    string `yaml:"url" toml:"url"`
	Prefix string `yaml:"prefix" toml:"prefix"`
}

// DatabaseConfig is read when the engine is built WithDB.
type DatabaseConfig struct {
	DSN         string `yaml:"dsn" toml:"dsn"`
	AutoMigrate bool   `yaml:"auto_migrate" toml:"auto_migrate"`
}

// DefaultConfig returns the defaults. JWT.PrivateKey must still be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			TemporaryTTL:  5 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			TTL:                   7 * 24 * time.Hour,
			MaxConcurrentSessions: 5,
			RetentionWindow:       30 * 24 * time.Hour,
			SweepInterval:         5 * time.Minute,
			SweepBatch:            500,
		},
		Suspicious: SuspiciousConfig{
			Window:               24 * time.Hour,
			MaxDistinctOrigins:   3,
			MaxDistinctLocations: 2,
			RevokeOnDetection:    true,
			KeepRecent:           1,
		},
		TwoFactor: TwoFactorConfig{
			Config:                  totp.DefaultConfig(),
			SingleUseTemporaryToken: true,
		},
		Password: PasswordConfig{
			Config:         password.DefaultConfig(),
			UpgradeOnLogin: true,
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle:          true,
			MaxLoginAttempts:          10,
			LoginCooldownDuration:     15 * time.Minute,
			MaxTwoFactorAttempts:      5,
			TwoFactorCooldownDuration: 5 * time.Minute,
		},
		Attempts: AttemptConfig{
			StreamMaxLen:  100000,
			FailureWindow: 15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Redis: RedisConfig{
			Prefix: "ac",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.TemporaryTTL <= 0 {
		return errors.New("JWT TemporaryTTL must be > 0")
	}
	if c.JWT.TemporaryTTL > c.JWT.RefreshTTL {
		return errors.New("JWT TemporaryTTL must not exceed RefreshTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.MaxConcurrentSessions < 0 {
		return errors.New("Session MaxConcurrentSessions must be >= 0")
	}
	if c.Session.RetentionWindow <= 0 {
		return errors.New("Session RetentionWindow must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("Session SweepInterval must be > 0")
	}
	if c.Session.SweepBatch <= 0 {
		return errors.New("Session SweepBatch must be > 0")
	}

	// Suspicious
	if c.Suspicious.Window <= 0 {
		return errors.New("Suspicious Window must be > 0")
	}
	if c.Suspicious.MaxDistinctOrigins <= 0 || c.Suspicious.MaxDistinctLocations <= 0 {
		return errors.New("Suspicious thresholds must be > 0")
	}
	if c.Suspicious.KeepRecent < 0 {
		return errors.New("Suspicious KeepRecent must be >= 0")
	}

	// Two-factor
	if c.TwoFactor.Period == 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.SecretSize < 10 {
		return errors.New("TwoFactor SecretSize must be >= 10")
	}
	if c.TwoFactor.BackupCodeCount <= 0 {
		return errors.New("TwoFactor BackupCodeCount must be > 0")
	}
	if strings.TrimSpace(c.TwoFactor.Issuer) == "" {
		return errors.New("TwoFactor Issuer must be set")
	}

	// Password
	if _, err := password.NewArgon2(c.Password.Config); err != nil {
		return fmt.Errorf("Password: %w", err)
	}

	// Rate limits
	if c.RateLimit.MaxLoginAttempts < 0 || c.RateLimit.MaxTwoFactorAttempts < 0 {
		return errors.New("RateLimit budgets must be >= 0")
	}
	if c.RateLimit.MaxLoginAttempts > 0 && c.RateLimit.LoginCooldownDuration <= 0 {
		return errors.New("RateLimit LoginCooldown must be > 0 when MaxLoginAttempts is set")
	}
	if c.RateLimit.MaxTwoFactorAttempts > 0 && c.RateLimit.TwoFactorCooldownDuration <= 0 {
		return errors.New("RateLimit TwoFactorCooldown must be > 0 when MaxTwoFactorAttempts is set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if strings.TrimSpace(c.Redis.Prefix) == "" {
		return errors.New("Redis Prefix must be set")
	}

	return nil
}

// HighSecurityConfig tightens every lifetime and window. It signs with
// ed25519, so JWT.PrivateKey and JWT.PublicKey must be set.
func HighSecurityConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "ed25519"
	cfg.JWT.AccessTTL = 5 * time.Minute
	cfg.JWT.RefreshTTL = 24 * time.Hour
	cfg.JWT.TemporaryTTL = 2 * time.Minute
	cfg.Session.TTL = 24 * time.Hour
	cfg.Session.MaxConcurrentSessions = 3
	cfg.TwoFactor.Window = 1
	cfg.RateLimit.MaxLoginAttempts = 5
	cfg.RateLimit.MaxTwoFactorAttempts = 3
	cfg.Suspicious.KeepRecent = 1
	return cfg
}
