package authcore

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
)

// ActiveSessions lists the principal's active sessions, most recently used first.
func (e *Engine) ActiveSessions(ctx context.Context, principalID int64) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	sessions, err := e.sessions.ListActive(ctx, principalID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionInfo(s))
	}
	return out, nil
}

// SweepExpiredSessions expires every active session past its expiry and purges
// terminated sessions older than Session.RetentionWindow. It returns the number
// expired.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	expired, purged, err := e.sweeper.RunOnce(ctx)
	if expired > 0 || purged > 0 {
		e.emitAudit(ctx, audit.EventSessionExpiredSweep, err == nil, 0, "", err, map[string]string{
			"expired": itoa(expired),
			"purged":  itoa(purged),
		})
	}
	return expired, err
}

// DetectSuspiciousActivity inspects sessions opened within window
// (Suspicious.Window when window <= 0). With Suspicious.RevokeOnDetection set,
// a suspicious report also revokes every session except the most recent ones.
func (e *Engine) DetectSuspiciousActivity(ctx context.Context, principalID int64, window time.Duration) (*SuspiciousReport, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.sessions.DetectSuspicious(ctx, principalID, window)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
