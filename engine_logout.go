package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

// Logout revokes the session of accessToken. It succeeds for unknown, expired
// and already revoked tokens; only store failures are returned.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	s, err := e.sessions.RevokeByAccess(ctx, session.HashToken(accessToken), session.ReasonLogout)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, audit.EventLogout, true, s.PrincipalID, s.ID, nil, nil)
	return nil
}

// LogoutAll revokes every active session of the principal and returns how many
// were revoked.
func (e *Engine) LogoutAll(ctx context.Context, principalID int64) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.sessions.RevokeAll(ctx, principalID, session.ReasonLogoutAll)
	if err != nil {
		return 0, err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, audit.EventLogoutAll, true, principalID, "", nil, map[string]string{"count": itoa(n)})
	return n, nil
}

// LogoutSession revokes one session owned by principalID. A session that
// belongs to another principal is reported as ErrSessionNotFound.
func (e *Engine) LogoutSession(ctx context.Context, sessionID string, principalID int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return sessionStateError(err)
	}
	if s.PrincipalID != principalID {
		e.logger.Warn("session revoke by non-owner",
			zap.String("session_id", sessionID),
			zap.Int64("principal_id", principalID),
		)
		return ErrSessionNotFound
	}
	if err := e.sessions.Revoke(ctx, sessionID, session.ReasonLogout); err != nil {
		return sessionStateError(err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, audit.EventLogout, true, principalID, sessionID, nil, nil)
	return nil
}

// RevokeSessionAsAdmin revokes any session without an ownership check. An
// empty reason records an administrative revocation.
func (e *Engine) RevokeSessionAsAdmin(ctx context.Context, sessionID, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if reason == "" {
		reason = session.ReasonAdministrative
	}
	return sessionStateError(e.sessions.Revoke(ctx, sessionID, reason))
}

// DeactivatePrincipal moves every active session of the principal to inactive.
// Call it when the account is disabled in the identity store.
func (e *Engine) DeactivatePrincipal(ctx context.Context, principalID int64) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.sessions.DeactivatePrincipal(ctx, principalID)
}
