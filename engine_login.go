package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/attempt"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

// Login checks identifier and secret.
//
// Without two-factor it opens a session and returns access and refresh tokens.
// With two-factor enabled it returns RequiresTwoFactor and a temporary token
// only; no session exists until CompleteTwoFactor succeeds. Exactly one login
// attempt is recorded per call.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	ip := clientIPFromContext(ctx)
	email := credential.Normalize(identifier)

	if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
		if !errors.Is(err, rate.ErrRateLimited) {
			return nil, err
		}
		e.verifier.Record(ctx, attempt.LoginAttempt{
			Email:     email,
			IP:        ip,
			UserAgent: userAgentFromContext(ctx),
			Reason:    attempt.ReasonRateLimited,
			CreatedAt: e.now(),
		})
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, audit.EventLoginFailure, false, 0, "", ErrLoginRateLimited, map[string]string{"identifier": email})
		return nil, ErrLoginRateLimited
	}

	var requiresTwoFactor bool
	principal, err := e.verifier.Verify(ctx, credential.Request{
		Identifier: identifier,
		Secret:     secret,
		IP:         ip,
		UserAgent:  userAgentFromContext(ctx),
		Classify: func(ctx context.Context, p identity.Principal) (string, error) {
			enabled, err := e.twoFactor.IsEnabled(ctx, p.ID)
			if err != nil {
				return "", err
			}
			if enabled {
				requiresTwoFactor = true
				return attempt.ReasonTwoFactorRequired, nil
			}
			return attempt.ReasonSuccess, nil
		},
	})
	if err != nil {
		return nil, e.loginFailed(ctx, email, ip, err)
	}

	if err := e.limiter.ResetLogin(ctx, email); err != nil {
		e.logger.Warn("login limiter reset failed", zap.String("identifier", email), zap.Error(err))
	}

	if requiresTwoFactor {
		temp, _, err := e.tokens.IssueTemporary(principal)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricLoginTwoFactorRequired)
		e.emitAudit(ctx, audit.EventLoginTwoFactorPending, true, principal.ID, "", nil, nil)
		return &LoginResult{RequiresTwoFactor: true, TempToken: temp}, nil
	}

	result, err := e.openSession(ctx, principal, false)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, audit.EventLoginSuccess, true, principal.ID, result.SessionID, nil, nil)
	return result, nil
}

func (e *Engine) loginFailed(ctx context.Context, email, ip string, err error) error {
	var public error
	switch {
	case errors.Is(err, credential.ErrInvalidCredentials):
		public = ErrInvalidCredentials
	case errors.Is(err, credential.ErrInactive):
		public = ErrAccountInactive
	default:
		e.logger.Error("login failed", zap.String("identifier", email), zap.Error(err))
		return err
	}

	if incErr := e.limiter.IncrementLogin(ctx, email, ip); incErr != nil {
		e.logger.Warn("login limiter increment failed", zap.String("identifier", email), zap.Error(incErr))
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, audit.EventLoginFailure, false, 0, "", public, map[string]string{"identifier": email})
	return public
}

// openSession mints an access and refresh pair and records the session. The
// session never outlives its refresh token.
func (e *Engine) openSession(ctx context.Context, p identity.Principal, twoFactorVerified bool) (*LoginResult, error) {
	access, _, err := e.tokens.IssueAccess(p)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := e.tokens.IssueRefresh(p)
	if err != nil {
		return nil, err
	}

	ttl := e.config.Session.TTL
	if remaining := refreshExp.Sub(e.now()); remaining < ttl {
		ttl = remaining
	}
	s, err := e.sessions.Create(ctx, session.CreateInput{
		PrincipalID:  p.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		Meta:         sessionMetaFromContext(ctx, twoFactorVerified),
		TTL:          ttl,
	})
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		Principal:    viewOf(p),
		SessionID:    s.ID,
	}, nil
}

// sessionExpiry caps a sliding session expiry at the refresh token's own expiry.
func (e *Engine) sessionExpiry(refreshExp time.Time) time.Time {
	exp := e.now().Add(e.config.Session.TTL)
	if !refreshExp.IsZero() && refreshExp.Before(exp) {
		return refreshExp
	}
	return exp
}
