package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/attempt"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/totp"
	"go.uber.org/zap"
)

// CompleteTwoFactor exchanges a temporary token and a TOTP or backup code for
// an authenticated session. A temporary token is consumed by its first
// successful use; a rejected code leaves it usable until it expires.
func (e *Engine) CompleteTwoFactor(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.ParseTemporary(tempToken)
	if err != nil {
		e.metricInc(MetricTwoFactorFailure)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTemporaryTokenExpired
		}
		return nil, ErrTemporaryTokenInvalid
	}
	principalID, err := claims.PrincipalID()
	if err != nil {
		return nil, ErrTemporaryTokenInvalid
	}

	if err := e.limiter.CheckTwoFactor(ctx, principalID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricTwoFactorRateLimited)
			e.recordTwoFactorAttempt(ctx, claims.Email, principalID, false, attempt.ReasonRateLimited)
			e.emitAudit(ctx, audit.EventTwoFactorFailure, false, principalID, "", ErrTwoFactorRateLimited, nil)
			return nil, ErrTwoFactorRateLimited
		}
		return nil, err
	}

	claimed, err := e.claimTemporaryToken(ctx, claims)
	if err != nil {
		return nil, err
	}
	if !claimed {
		e.metricInc(MetricTemporaryTokenReplay)
		e.recordTwoFactorAttempt(ctx, claims.Email, principalID, false, attempt.ReasonTemporaryInvalid)
		e.emitAudit(ctx, audit.EventTwoFactorFailure, false, principalID, "", ErrTemporaryTokenInvalid, map[string]string{"jti": claims.ID})
		return nil, ErrTemporaryTokenInvalid
	}

	principal, err := e.activePrincipal(ctx, principalID)
	if err != nil {
		e.releaseTemporaryToken(ctx, claims)
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrTemporaryTokenInvalid
		}
		return nil, err
	}

	method, err := e.twoFactor.VerifyMethod(ctx, principalID, code)
	if err != nil {
		e.releaseTemporaryToken(ctx, claims)
		return nil, err
	}
	if method == totp.MethodNone {
		e.releaseTemporaryToken(ctx, claims)
		if incErr := e.limiter.IncrementTwoFactor(ctx, principalID); incErr != nil {
			e.logger.Warn("two-factor limiter increment failed", zap.Int64("principal_id", principalID), zap.Error(incErr))
		}
		e.metricInc(MetricTwoFactorFailure)
		e.recordTwoFactorAttempt(ctx, principal.Email, principalID, false, attempt.ReasonInvalidCode)
		e.emitAudit(ctx, audit.EventTwoFactorFailure, false, principalID, "", ErrInvalidTwoFactorCode, nil)
		return nil, ErrInvalidTwoFactorCode
	}

	if err := e.limiter.ResetTwoFactor(ctx, principalID); err != nil {
		e.logger.Warn("two-factor limiter reset failed", zap.Int64("principal_id", principalID), zap.Error(err))
	}
	if method == totp.MethodBackupCode {
		e.metricInc(MetricBackupCodeUsed)
	}

	result, err := e.openSession(ctx, principal, true)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricTwoFactorSuccess)
	e.recordTwoFactorAttempt(ctx, principal.Email, principalID, true, attempt.ReasonSuccess)
	e.emitAudit(ctx, audit.EventTwoFactorSuccess, true, principalID, result.SessionID, nil, map[string]string{"method": string(method)})
	return result, nil
}

func (e *Engine) temporaryTokenKey(jti string) string {
	return e.config.Redis.Prefix + ":tt:" + jti
}

// claimTemporaryToken marks the token's jti as used until the token expires.
// It reports false when the jti was already claimed.
func (e *Engine) claimTemporaryToken(ctx context.Context, claims *jwt.Claims) (bool, error) {
	if !e.config.TwoFactor.SingleUseTemporaryToken {
		return true, nil
	}
	if claims.ID == "" {
		return false, nil
	}
	ttl := time.Second
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Sub(e.now()) + e.config.JWT.Leeway; remaining > ttl {
			ttl = remaining
		}
	}
	ok, err := e.redis.SetNX(ctx, e.temporaryTokenKey(claims.ID), strconv.FormatInt(e.now().UnixMilli(), 10), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

func (e *Engine) releaseTemporaryToken(ctx context.Context, claims *jwt.Claims) {
	if !e.config.TwoFactor.SingleUseTemporaryToken || claims.ID == "" {
		return
	}
	if err := e.redis.Del(ctx, e.temporaryTokenKey(claims.ID)).Err(); err != nil {
		e.logger.Warn("temporary token release failed", zap.String("jti", claims.ID), zap.Error(err))
	}
}

func (e *Engine) recordTwoFactorAttempt(ctx context.Context, email string, principalID int64, success bool, reason string) {
	id := principalID
	e.verifier.Record(ctx, attempt.LoginAttempt{
		Email:       email,
		PrincipalID: &id,
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Success:     success,
		Reason:      reason,
		CreatedAt:   e.now(),
	})
}

// activePrincipal loads a principal and rejects inactive accounts.
func (e *Engine) activePrincipal(ctx context.Context, principalID int64) (identity.Principal, error) {
	rec, err := e.provider.FindByID(ctx, principalID)
	if err != nil {
		return identity.Principal{}, err
	}
	if !rec.Active {
		return identity.Principal{}, ErrAccountInactive
	}
	return rec.Principal, nil
}

/*
====================================
TWO-FACTOR MANAGEMENT
====================================
*/

// GenerateTwoFactorSecret creates a new secret and backup codes for the
// principal. The factor stays off until EnableTwoFactor confirms a code.
func (e *Engine) GenerateTwoFactorSecret(ctx context.Context, principalID int64) (*TwoFactorSetup, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	principal, err := e.activePrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	setup, err := e.twoFactor.GenerateSecret(ctx, principal)
	if err != nil {
		return nil, twoFactorError(err)
	}
	e.emitAudit(ctx, AuditTwoFactorSetup, true, principalID, "", nil, nil)
	return setup, nil
}

// EnableTwoFactor turns the factor on after checking a code from the
// authenticator app.
func (e *Engine) EnableTwoFactor(ctx context.Context, principalID int64, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireConfigured(ctx, principalID); err != nil {
		return err
	}
	if err := e.limiter.CheckTwoFactor(ctx, principalID); err != nil {
		return twoFactorLimitError(err)
	}

	ok, err := e.twoFactor.Enable(ctx, principalID, code)
	if err != nil {
		return twoFactorError(err)
	}
	if !ok {
		e.secondFactorRejected(ctx, principalID)
		return ErrInvalidTwoFactorCode
	}
	e.secondFactorAccepted(ctx, principalID)
	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, AuditTwoFactorEnabled, true, principalID, "", nil, nil)
	return nil
}

// DisableTwoFactor turns the factor off. code must be a current TOTP code or
// an unused backup code.
func (e *Engine) DisableTwoFactor(ctx context.Context, principalID int64, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.checkSecondFactor(ctx, principalID, code); err != nil {
		return err
	}
	if err := e.twoFactor.Disable(ctx, principalID); err != nil {
		return twoFactorError(err)
	}
	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, AuditTwoFactorDisabled, true, principalID, "", nil, nil)
	return nil
}

// TwoFactorStatus reports whether the principal has a secret, whether it is
// enabled and how many backup codes remain.
func (e *Engine) TwoFactorStatus(ctx context.Context, principalID int64) (TwoFactorStatus, error) {
	if err := e.ready(); err != nil {
		return TwoFactorStatus{}, err
	}
	return e.twoFactor.Status(ctx, principalID)
}

// RegenerateBackupCodes replaces every backup code after checking code. The
// new codes are returned once and only their digests are kept.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID int64, code string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.checkSecondFactor(ctx, principalID, code); err != nil {
		return nil, err
	}
	codes, err := e.twoFactor.RegenerateBackupCodes(ctx, principalID)
	if err != nil {
		return nil, twoFactorError(err)
	}
	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, AuditBackupCodesRegenerate, true, principalID, "", nil, nil)
	return codes, nil
}

func (e *Engine) requireConfigured(ctx context.Context, principalID int64) error {
	st, err := e.twoFactor.Status(ctx, principalID)
	if err != nil {
		return err
	}
	if !st.Configured {
		return ErrTwoFactorNotConfigured
	}
	return nil
}

// checkSecondFactor verifies code for a configured principal under the
// two-factor attempt budget.
func (e *Engine) checkSecondFactor(ctx context.Context, principalID int64, code string) error {
	if err := e.requireConfigured(ctx, principalID); err != nil {
		return err
	}
	if err := e.limiter.CheckTwoFactor(ctx, principalID); err != nil {
		return twoFactorLimitError(err)
	}
	method, err := e.twoFactor.VerifyMethod(ctx, principalID, code)
	if err != nil {
		return twoFactorError(err)
	}
	if method == totp.MethodNone {
		e.secondFactorRejected(ctx, principalID)
		return ErrInvalidTwoFactorCode
	}
	if method == totp.MethodBackupCode {
		e.metricInc(MetricBackupCodeUsed)
	}
	e.secondFactorAccepted(ctx, principalID)
	return nil
}

func (e *Engine) secondFactorRejected(ctx context.Context, principalID int64) {
	if err := e.limiter.IncrementTwoFactor(ctx, principalID); err != nil {
		e.logger.Warn("two-factor limiter increment failed", zap.Int64("principal_id", principalID), zap.Error(err))
	}
	e.metricInc(MetricTwoFactorFailure)
	e.emitAudit(ctx, audit.EventTwoFactorFailure, false, principalID, "", ErrInvalidTwoFactorCode, nil)
}

func (e *Engine) secondFactorAccepted(ctx context.Context, principalID int64) {
	if err := e.limiter.ResetTwoFactor(ctx, principalID); err != nil {
		e.logger.Warn("two-factor limiter reset failed", zap.Int64("principal_id", principalID), zap.Error(err))
	}
}

func twoFactorLimitError(err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrTwoFactorRateLimited
	}
	return err
}

func twoFactorError(err error) error {
	switch {
	case errors.Is(err, totp.ErrNotConfigured), errors.Is(err, totp.ErrNoSecret):
		return ErrTwoFactorNotConfigured
	case errors.Is(err, totp.ErrAlreadyEnabled):
		return ErrTwoFactorAlreadyEnabled
	default:
		return err
	}
}
