package authcore

import (
	"context"
	"io"

	"github.com/MrEthical07/authcore/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant record.
type AuditEvent = audit.Event

// AuditSink receives audit events from a single delivery goroutine.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditLoginSuccess          = audit.EventLoginSuccess
	AuditLoginFailure          = audit.EventLoginFailure
	AuditLoginTwoFactorPending = audit.EventLoginTwoFactorPending
	AuditTwoFactorSuccess      = audit.EventTwoFactorSuccess
	AuditTwoFactorFailure      = audit.EventTwoFactorFailure
	AuditRefreshSuccess        = audit.EventRefreshSuccess
	AuditRefreshFailure        = audit.EventRefreshFailure
	AuditLogout                = audit.EventLogout
	AuditLogoutAll             = audit.EventLogoutAll
	AuditSessionRevoked        = audit.EventSessionRevoked
	AuditSessionEvicted        = audit.EventSessionEvicted
	AuditSessionExpiredSweep   = audit.EventSessionExpiredSweep
	AuditSuspiciousActivity    = audit.EventSuspiciousActivity
	AuditTwoFactorSetup        = audit.EventTwoFactorSetup
	AuditTwoFactorEnabled      = audit.EventTwoFactorEnabled
	AuditTwoFactorDisabled     = audit.EventTwoFactorDisabled
	AuditBackupCodesRegenerate = audit.EventBackupCodesRegenerate
)

// NewChannelAuditSink buffers events in a channel read with Events.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterAuditSink writes one JSON object per line to w.
func NewJSONWriterAuditSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapAuditSink logs each event as a structured entry.
func NewZapAuditSink(logger *zap.Logger) *audit.ZapSink {
	return audit.NewZapSink(logger)
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, principalID int64, sessionID string, err error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	event := audit.Event{
		EventType:   eventType,
		PrincipalID: principalID,
		SessionID:   sessionID,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.audit.Emit(ctx, event)
}
