package totp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/identity"
	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

const (
	// BackupCodeLength is the number of hex characters in a backup code.
	BackupCodeLength = 8
	codeDigits       = 6
)

// Config tunes the engine.
//
// Window is the accepted drift in time steps on either side of the current step.
// The default of 10 steps of 30 s accepts codes up to five minutes early or late.
type Config struct {
	Issuer          string `yaml:"issuer" toml:"issuer"`
	Period          uint   `yaml:"period" toml:"period"`
	Window          uint   `yaml:"window" toml:"window"`
	SecretSize      uint   `yaml:"secret_size" toml:"secret_size"`
	BackupCodeCount int    `yaml:"backup_code_count" toml:"backup_code_count"`
}

// DefaultConfig returns 30 s steps, a ±10 step window and 10 backup codes.
func DefaultConfig() Config {
	return Config{
		Issuer:          "authcore",
		Period:          30,
		Window:          10,
		SecretSize:      20,
		BackupCodeCount: 10,
	}
}

// Setup is returned by GenerateSecret. BackupCodes are shown once and only
// their digests are stored.
type Setup struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioningUri"`
	BackupCodes     []string `json:"backupCodes"`
}

// Status summarizes a principal's two-factor state.
type Status struct {
	Configured           bool      `json:"configured"`
	Enabled              bool      `json:"enabled"`
	BackupCodesRemaining int       `json:"backupCodesRemaining"`
	LastUsedAt           time.Time `json:"lastUsedAt,omitempty"`
}

// Method tells which mechanism accepted a code.
type Method string

const (
	MethodNone       Method = ""
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
)

// Engine generates secrets and validates codes. It is safe for concurrent use.
type Engine struct {
	store  Store
	config Config
	now    func() time.Time
}

// NewEngine validates cfg and returns an Engine over store.
func NewEngine(store Store, cfg Config, now func() time.Time) (*Engine, error) {
	if store == nil {
		return nil, errors.New("totp store required")
	}
	if cfg.Period == 0 {
		return nil, errors.New("totp period must be > 0")
	}
	if cfg.SecretSize < 10 {
		return nil, errors.New("totp secret size must be >= 10 bytes")
	}
	if cfg.BackupCodeCount <= 0 {
		return nil, errors.New("backup code count must be > 0")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("totp issuer required")
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, config: cfg, now: now}, nil
}

// GenerateSecret creates or replaces the secret of an unenabled record together
// with a fresh set of backup codes. The record stays disabled until Enable.
func (e *Engine) GenerateSecret(ctx context.Context, p identity.Principal) (*Setup, error) {
	key, err := pqtotp.Generate(pqtotp.GenerateOpts{
		Issuer:      e.config.Issuer,
		AccountName: accountName(p),
		Period:      e.config.Period,
		SecretSize:  e.config.SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	codes, hashes, err := e.newBackupCodes(p.ID)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveSecret(ctx, p.ID, key.Secret(), hashes, e.now()); err != nil {
		return nil, err
	}

	return &Setup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     codes,
	}, nil
}

// Verify reports whether code is a valid TOTP code or an unused backup code.
// A missing record or secret is a plain false.
func (e *Engine) Verify(ctx context.Context, principalID int64, code string) (bool, error) {
	method, err := e.VerifyMethod(ctx, principalID, code)
	return method != MethodNone, err
}

// VerifyMethod is Verify that also reports which mechanism matched.
func (e *Engine) VerifyMethod(ctx context.Context, principalID int64, code string) (Method, error) {
	cleaned := NormalizeCode(code)

	var method Method
	switch {
	case isBackupCode(cleaned):
		method = MethodBackupCode
	case isTOTPCode(cleaned):
		method = MethodTOTP
	default:
		return MethodNone, nil
	}

	rec, err := e.store.Get(ctx, principalID)
	if errors.Is(err, ErrNotConfigured) {
		return MethodNone, nil
	}
	if err != nil {
		return MethodNone, err
	}
	if rec.Secret == "" {
		return MethodNone, nil
	}

	now := e.now()
	switch method {
	case MethodBackupCode:
		ok, err := e.store.ConsumeBackupCode(ctx, principalID, HashBackupCode(principalID, strings.ToUpper(cleaned)), now)
		if err != nil || !ok {
			return MethodNone, err
		}
	case MethodTOTP:
		ok, err := pqtotp.ValidateCustom(cleaned, rec.Secret, now.UTC(), e.validateOpts())
		if err != nil || !ok {
			return MethodNone, nil
		}
	}

	if err := e.store.TouchLastUsed(ctx, principalID, now); err != nil {
		return MethodNone, err
	}
	return method, nil
}

// Enable verifies code and, on success, turns two-factor on.
func (e *Engine) Enable(ctx context.Context, principalID int64, code string) (bool, error) {
	ok, err := e.Verify(ctx, principalID, code)
	if err != nil || !ok {
		return false, err
	}
	if err := e.store.SetEnabled(ctx, principalID, true, e.now()); err != nil {
		return false, err
	}
	return true, nil
}

// Disable turns two-factor off and keeps the secret and remaining codes.
func (e *Engine) Disable(ctx context.Context, principalID int64) error {
	return e.store.SetEnabled(ctx, principalID, false, e.now())
}

// RegenerateBackupCodes replaces the backup-code list wholesale.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID int64) ([]string, error) {
	codes, hashes, err := e.newBackupCodes(principalID)
	if err != nil {
		return nil, err
	}
	if err := e.store.ReplaceBackupCodes(ctx, principalID, hashes, e.now()); err != nil {
		return nil, err
	}
	return codes, nil
}

// Status reports the record state. A missing record is Configured=false.
func (e *Engine) Status(ctx context.Context, principalID int64) (Status, error) {
	rec, err := e.store.Get(ctx, principalID)
	if errors.Is(err, ErrNotConfigured) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{
		Configured:           rec.Secret != "",
		Enabled:              rec.Enabled,
		BackupCodesRemaining: len(rec.BackupCodes),
		LastUsedAt:           rec.LastUsedAt,
	}, nil
}

// IsEnabled is the check used by the login flow.
func (e *Engine) IsEnabled(ctx context.Context, principalID int64) (bool, error) {
	st, err := e.Status(ctx, principalID)
	return st.Enabled, err
}

// Window returns the accepted drift on either side of now.
func (e *Engine) Window() time.Duration {
	return time.Duration(e.config.Window*e.config.Period) * time.Second
}

func (e *Engine) validateOpts() pqtotp.ValidateOpts {
	return pqtotp.ValidateOpts{
		Period:    e.config.Period,
		Skew:      e.config.Window,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

func (e *Engine) newBackupCodes(principalID int64) ([]string, []string, error) {
	codes := make([]string, e.config.BackupCodeCount)
	hashes := make([]string, e.config.BackupCodeCount)
	seen := make(map[string]struct{}, e.config.BackupCodeCount)
	buf := make([]byte, BackupCodeLength/2)
	for i := 0; i < len(codes); {
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("backup code entropy: %w", err)
		}
		code := strings.ToUpper(hex.EncodeToString(buf))
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes[i] = code
		hashes[i] = HashBackupCode(principalID, code)
		i++
	}
	return codes, hashes, nil
}

func accountName(p identity.Principal) string {
	if p.Email != "" {
		return p.Email
	}
	return strconv.FormatInt(p.ID, 10)
}

// NormalizeCode strips whitespace and hyphens.
func NormalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			return -1
		}
		return r
	}, code)
}

func isBackupCode(s string) bool {
	if len(s) != BackupCodeLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

func isTOTPCode(s string) bool {
	if len(s) != codeDigits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
