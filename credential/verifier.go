// Package credential checks identifier/secret pairs against stored password hashes.
//
// The verifier reports an outcome only. Unknown principals and wrong secrets are
// indistinguishable to the caller, while the recorded LoginAttempt keeps the
// specific reason for audit.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/attempt"
	"github.com/MrEthical07/authcore/identity"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCredentials covers unknown identifiers and mismatching secrets.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactive is returned for a known principal whose account is inactive.
	ErrInactive = errors.New("account inactive")
)

// PasswordChecker verifies and re-hashes secrets. *password.Hasher satisfies it.
type PasswordChecker interface {
	Verify(secret, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
	Hash(secret string) (string, error)
	Burn(secret string)
}

// Request is a single credential check.
type Request struct {
	Identifier string
	Secret     string
	IP         string
	UserAgent  string
	// Classify, when set, runs after a successful password check and before the
	// attempt is recorded. It returns the reason code stored for the success.
	// An error fails the whole verification.
	Classify func(ctx context.Context, p identity.Principal) (string, error)
}

// Verifier checks credentials and records one login attempt per check.
type Verifier struct {
	provider identity.Provider
	hasher   PasswordChecker
	recorder attempt.Recorder
	logger   *zap.Logger
	now      func() time.Time

	upgradeHashes bool
	onUpgrade     func(principalID int64)
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger used for non-fatal side-channel failures.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithClock overrides time.Now for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHashUpgrade enables re-hashing stale hashes after a successful check when
// the provider implements identity.PasswordUpdater.
func WithHashUpgrade(enabled bool) Option {
	return func(v *Verifier) { v.upgradeHashes = enabled }
}

// WithUpgradeHook is called after a stale hash has been replaced.
func WithUpgradeHook(fn func(principalID int64)) Option {
	return func(v *Verifier) { v.onUpgrade = fn }
}

// NewVerifier wires a Verifier. recorder may be nil.
func NewVerifier(provider identity.Provider, hasher PasswordChecker, recorder attempt.Recorder, opts ...Option) *Verifier {
	if recorder == nil {
		recorder = attempt.NopRecorder{}
	}
	v := &Verifier{
		provider: provider,
		hasher:   hasher,
		recorder: recorder,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the request secret for its identifier. Exactly one LoginAttempt
// is recorded per call, before returning, whatever the outcome.
func (v *Verifier) Verify(ctx context.Context, req Request) (identity.Principal, error) {
	email := Normalize(req.Identifier)

	rec, reason, err := v.check(ctx, email, req.Secret)
	if err == nil && req.Classify != nil {
		var classified string
		if classified, err = req.Classify(ctx, rec.Principal); err != nil {
			reason = attempt.ReasonLookupFailed
		} else if classified != "" {
			reason = classified
		}
	}

	a := attempt.LoginAttempt{
		Email:     email,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Success:   err == nil,
		Reason:    reason,
		CreatedAt: v.now(),
	}
	if rec.ID > 0 {
		id := rec.ID
		a.PrincipalID = &id
	}
	v.Record(ctx, a)

	if err != nil {
		return identity.Principal{}, err
	}

	v.maybeUpgrade(ctx, rec, req.Secret)
	return rec.Principal, nil
}

// Record writes a to the attempt recorder. Failures are logged and swallowed.
func (v *Verifier) Record(ctx context.Context, a attempt.LoginAttempt) {
	if err := v.recorder.Record(ctx, a); err != nil {
		v.logger.Warn("login attempt not recorded",
			zap.String("email", a.Email),
			zap.String("reason", a.Reason),
			zap.Error(err),
		)
	}
}

func (v *Verifier) check(ctx context.Context, email, secret string) (identity.Record, string, error) {
	if email == "" || secret == "" {
		v.hasher.Burn(secret)
		return identity.Record{}, attempt.ReasonEmptySecret, ErrInvalidCredentials
	}

	rec, err := v.provider.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			v.hasher.Burn(secret)
			return identity.Record{}, attempt.ReasonUserNotFound, ErrInvalidCredentials
		}
		return identity.Record{}, attempt.ReasonLookupFailed, fmt.Errorf("principal lookup: %w", err)
	}

	if !rec.Active {
		return rec, attempt.ReasonAccountInactive, ErrInactive
	}

	ok, err := v.hasher.Verify(secret, rec.PasswordHash)
	if err != nil {
		v.logger.Warn("stored password hash rejected", zap.Int64("principal_id", rec.ID), zap.Error(err))
		return rec, attempt.ReasonPasswordMismatch, ErrInvalidCredentials
	}
	if !ok {
		return rec, attempt.ReasonPasswordMismatch, ErrInvalidCredentials
	}
	return rec, attempt.ReasonSuccess, nil
}

func (v *Verifier) maybeUpgrade(ctx context.Context, rec identity.Record, secret string) {
	if !v.upgradeHashes {
		return
	}
	updater, ok := v.provider.(identity.PasswordUpdater)
	if !ok {
		return
	}
	stale, err := v.hasher.NeedsUpgrade(rec.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := v.hasher.Hash(secret)
	if err == nil {
		err = updater.UpdatePasswordHash(ctx, rec.ID, hash)
	}
	if err != nil {
		v.logger.Warn("password hash upgrade failed", zap.Int64("principal_id", rec.ID), zap.Error(err))
		return
	}
	v.logger.Info("password hash upgraded", zap.Int64("principal_id", rec.ID))
	if v.onUpgrade != nil {
		v.onUpgrade(rec.ID)
	}
}

// Normalize canonicalizes an email identifier.
func Normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
