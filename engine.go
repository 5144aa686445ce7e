package authcore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/totp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine is the login orchestrator. It is safe for concurrent use once built.
type Engine struct {
	config   Config
	logger   *zap.Logger
	now      func() time.Time
	redis    redis.UniversalClient
	provider identity.Provider

	verifier  *credential.Verifier
	tokens    *jwt.Manager
	twoFactor *totp.Engine
	sessions  *session.Manager
	sweeper   *session.Sweeper
	limiter   *rate.Limiter
	audit     *audit.Dispatcher
	metrics   *metrics.Metrics
	durable   bool

	closed atomic.Bool
}

// Close stops the sweeper and flushes pending audit events. It is safe to call
// more than once. The Redis client and database are owned by the caller.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// StartSweeper runs session expiry and retention purge every
// Session.SweepInterval until ctx ends or Close is called.
func (e *Engine) StartSweeper(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.sweeper.Start(ctx)
	return nil
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of every counter. It is empty when metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() error {
	if e == nil || e.sessions == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// onSessionEvent turns session lifecycle events into counters and audit records.
func (e *Engine) onSessionEvent(ctx context.Context, ev session.Event) {
	switch ev.Kind {
	case session.EventCreated:
		e.metricInc(MetricSessionCreated)
	case session.EventEvicted:
		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, audit.EventSessionEvicted, true, ev.PrincipalID, ev.SessionID, nil, map[string]string{"reason": ev.Reason})
	case session.EventExpired:
		e.metricInc(MetricSessionExpired)
	case session.EventRevoked:
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, audit.EventSessionRevoked, true, ev.PrincipalID, ev.SessionID, nil, map[string]string{"reason": ev.Reason})
	case session.EventInactive:
		e.metricInc(MetricSessionInactive)
		e.emitAudit(ctx, audit.EventSessionRevoked, true, ev.PrincipalID, ev.SessionID, nil, map[string]string{"reason": ev.Reason})
	case session.EventSuspicious:
		e.metricInc(MetricSuspiciousActivity)
		e.emitAudit(ctx, audit.EventSuspiciousActivity, false, ev.PrincipalID, "", nil, map[string]string{"risk": ev.Reason})
	}
}
