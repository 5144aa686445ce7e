package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

// RefreshAccessToken mints a new access token for the session that owns
// refreshToken. The refresh token itself is kept.
//
// Session state is authoritative: a correctly signed refresh token whose
// session is missing, revoked, expired or inactive fails with
// ErrRefreshTokenInvalid, as does every token failure. Expired tokens also
// match ErrTokenExpired. Store failures are returned unchanged.
func (e *Engine) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", e.refreshFailed(ctx, 0, fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, ErrTokenExpired))
		}
		return "", e.refreshFailed(ctx, 0, ErrRefreshTokenInvalid)
	}
	principalID, err := claims.PrincipalID()
	if err != nil {
		return "", e.refreshFailed(ctx, 0, ErrRefreshTokenInvalid)
	}

	rec, err := e.provider.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return "", e.refreshFailed(ctx, principalID, ErrRefreshTokenInvalid)
		}
		return "", err
	}
	if !rec.Active {
		if n, err := e.sessions.DeactivatePrincipal(ctx, principalID); err != nil {
			e.logger.Warn("deactivating sessions failed", zap.Int64("principal_id", principalID), zap.Error(err))
		} else if n > 0 {
			e.logger.Info("sessions of inactive principal deactivated", zap.Int64("principal_id", principalID), zap.Int("count", n))
		}
		return "", e.refreshFailed(ctx, principalID, fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, ErrAccountInactive))
	}

	access, _, err := e.tokens.IssueAccess(rec.Principal)
	if err != nil {
		return "", err
	}
	var refreshExp time.Time
	if claims.ExpiresAt != nil {
		refreshExp = claims.ExpiresAt.Time
	}

	newExpiry := e.sessionExpiry(refreshExp)
	if !newExpiry.After(e.now()) {
		// Accepted only through leeway.
		return "", e.refreshFailed(ctx, principalID, fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, ErrTokenExpired))
	}

	s, err := e.sessions.Refresh(ctx, session.HashToken(refreshToken), access, newExpiry)
	if err != nil {
		if state := sessionStateError(err); state != err {
			return "", e.refreshFailed(ctx, principalID, fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, state))
		}
		return "", err
	}
	if s.PrincipalID != principalID {
		if err := e.sessions.Revoke(ctx, s.ID, session.ReasonSuspicious); err != nil {
			e.logger.Warn("revoking session on principal mismatch failed",
				zap.String("session_id", s.ID),
				zap.Int64("principal_id", principalID),
				zap.Error(err),
			)
		}
		return "", e.refreshFailed(ctx, principalID, ErrRefreshTokenInvalid)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, audit.EventRefreshSuccess, true, principalID, s.ID, nil, nil)
	return access, nil
}

func (e *Engine) refreshFailed(ctx context.Context, principalID int64, err error) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, audit.EventRefreshFailure, false, principalID, "", err, nil)
	return err
}
