package authcore

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/session"
)

var (
	// ErrInvalidCredentials covers unknown identifiers and wrong secrets alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned for a known principal whose account is disabled.
	ErrAccountInactive = errors.New("account inactive")
	// ErrInvalidTwoFactorCode is returned when a TOTP or backup code is rejected.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	// ErrTemporaryTokenInvalid is returned for a malformed, forged, wrongly scoped or already used temporary token.
	ErrTemporaryTokenInvalid = errors.New("invalid temporary token")
	// ErrTemporaryTokenExpired is returned for a temporary token past its expiry.
	ErrTemporaryTokenExpired = errors.New("temporary token expired")
	// ErrTemporaryTokenMisuse is returned when a temporary token is presented as an access token.
	ErrTemporaryTokenMisuse = errors.New("temporary token cannot be used for access")
	// ErrTokenInvalid is returned when an access token fails verification.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned when an access token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrSessionNotFound is returned when no session matches, including sessions owned by someone else.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotActive is returned when a session exists but is revoked, expired or inactive.
	ErrSessionNotActive = errors.New("session not active")
	// ErrSessionExpired narrows ErrSessionNotActive for expired sessions.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshTokenInvalid is returned for any refresh failure.
	ErrRefreshTokenInvalid = errors.New("invalid refresh token")
	// ErrTwoFactorNotConfigured is returned when managing a second factor that was never set up.
	ErrTwoFactorNotConfigured = errors.New("two-factor not configured")
	// ErrTwoFactorAlreadyEnabled is returned when requesting a new secret while two-factor is on.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrLoginRateLimited is returned when the identifier or client IP has exhausted its attempt budget.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrTwoFactorRateLimited is returned when the principal has exhausted its code budget.
	ErrTwoFactorRateLimited = errors.New("two-factor attempts rate limited")
	// ErrEngineNotReady is returned by a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Store failures propagate unmodified and can be matched with errors.Is.
var (
	ErrRedisUnavailable    = session.ErrRedisUnavailable
	ErrDatabaseUnavailable = session.ErrDatabaseUnavailable
)

var errSessionExpired = fmt.Errorf("%w: %w", ErrSessionNotActive, ErrSessionExpired)

// sessionStateError maps a session-layer state error onto the public taxonomy.
// Infrastructure errors are returned as they are.
func sessionStateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrExpired):
		return errSessionExpired
	case errors.Is(err, session.ErrNotActive):
		return ErrSessionNotActive
	default:
		return err
	}
}
