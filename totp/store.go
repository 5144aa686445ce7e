package totp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

var (
	// ErrNotConfigured is returned when a principal has no two-factor record.
	ErrNotConfigured = errors.New("two-factor not configured")
	// ErrAlreadyEnabled is returned when a new secret is requested for an enabled record.
	ErrAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrNoSecret is returned when enabling a record without a secret.
	ErrNoSecret = errors.New("two-factor secret missing")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("two-factor store unavailable")
)

// Record is the per-principal two-factor state. BackupCodes holds digests of
// unused codes only.
type Record struct {
	PrincipalID int64
	Secret      string
	Enabled     bool
	BackupCodes []string
	LastUsedAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store persists two-factor records. Every method is atomic with respect to
// concurrent callers for the same principal.
type Store interface {
	// Get returns ErrNotConfigured when no record exists.
	Get(ctx context.Context, principalID int64) (*Record, error)
	// SaveSecret creates the record or replaces secret and codes of an unenabled one.
	// It returns ErrAlreadyEnabled when the record is enabled.
	SaveSecret(ctx context.Context, principalID int64, secret string, codeHashes []string, now time.Time) error
	SetEnabled(ctx context.Context, principalID int64, enabled bool, now time.Time) error
	ReplaceBackupCodes(ctx context.Context, principalID int64, codeHashes []string, now time.Time) error
	// ConsumeBackupCode removes codeHash and reports whether it was present.
	ConsumeBackupCode(ctx context.Context, principalID int64, codeHash string, now time.Time) (bool, error)
	TouchLastUsed(ctx context.Context, principalID int64, now time.Time) error
}

// HashBackupCode salts the normalized code with the principal id.
func HashBackupCode(principalID int64, code string) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(principalID, 10) + ":" + code))
	return hex.EncodeToString(sum[:])
}
