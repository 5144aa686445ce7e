package authcore

import (
	"errors"
	"time"

	"github.com/MrEthical07/authcore/attempt"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/totp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Builder collects an Engine's collaborators. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	db     *gorm.DB

	provider  identity.Provider
	logger    *zap.Logger
	auditSink AuditSink
	recorders []attempt.Recorder
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client. It is required: rate limits and
// temporary-token replay protection always live in Redis, and so do sessions,
// two-factor records and attempts unless WithDB is used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDB moves sessions, two-factor records and login attempts to GORM.
// With Database.AutoMigrate set, Build creates the tables.
func (b *Builder) WithDB(db *gorm.DB) *Builder {
	b.db = db
	return b
}

// WithIdentityProvider sets the principal lookup. It is required.
func (b *Builder) WithIdentityProvider(p identity.Provider) *Builder {
	b.provider = p
	return b
}

// WithLogger sets the root logger. Components log through named children.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets where audit events go. Without one, audit events are
// logged through the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithAttemptRecorder adds a login-attempt recorder next to the built-in one.
func (b *Builder) WithAttemptRecorder(r attempt.Recorder) *Builder {
	if r != nil {
		b.recorders = append(b.recorders, r)
	}
	return b
}

// WithClock overrides time.Now across every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validation latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.provider == nil {
		return nil, errors.New("identity provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:   cfg,
		logger:   logger,
		now:      now,
		redis:    b.redis,
		provider: b.provider,
		metrics:  metrics.New(cfg.Metrics),
		limiter:  rate.New(b.redis, cfg.Redis.Prefix, cfg.RateLimit),
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(logger.Named("audit"))
	}
	engine.audit = audit.NewDispatcher(cfg.Audit, sink,
		audit.WithClock(now),
		audit.WithDropHook(func(ev audit.Event) {
			logger.Debug("audit event dropped", zap.String("event_type", ev.EventType))
		}),
	)

	// -------- STORES --------
	var (
		sessionStore session.Store
		totpStore    totp.Store
	)
	recorders := []attempt.Recorder{
		attempt.NewRedisRecorder(b.redis, cfg.Redis.Prefix, cfg.Attempts.StreamMaxLen, cfg.Attempts.FailureWindow),
	}
	if b.db != nil {
		gs := session.NewGormStore(b.db)
		ts := totp.NewGormStore(b.db)
		ar := attempt.NewGormRecorder(b.db)
		if cfg.Database.AutoMigrate {
			if err := gs.AutoMigrate(); err != nil {
				return nil, err
			}
			if err := ts.AutoMigrate(); err != nil {
				return nil, err
			}
			if err := ar.AutoMigrate(); err != nil {
				return nil, err
			}
		}
		sessionStore, totpStore = gs, ts
		engine.durable = true
		recorders = append(recorders, ar)
	} else {
		sessionStore = session.NewRedisStore(b.redis, cfg.Redis.Prefix, cfg.Session.RetentionWindow)
		totpStore = totp.NewRedisStore(b.redis, cfg.Redis.Prefix)
	}
	recorders = append(recorders, b.recorders...)

	// -------- CREDENTIALS --------
	hasher, err := password.NewHasher(cfg.Password.Config)
	if err != nil {
		return nil, err
	}
	engine.verifier = credential.NewVerifier(b.provider, hasher, attempt.MultiRecorder(recorders),
		credential.WithLogger(logger.Named("credential")),
		credential.WithClock(now),
		credential.WithHashUpgrade(cfg.Password.UpgradeOnLogin),
		credential.WithUpgradeHook(func(int64) { engine.metrics.Inc(metrics.PasswordUpgraded) }),
	)

	// -------- TOKENS --------
	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		TemporaryTTL:  cfg.JWT.TemporaryTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Clock:         now,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = tokens

	// -------- TWO-FACTOR --------
	twoFactor, err := totp.NewEngine(totpStore, cfg.TwoFactor.Config, now)
	if err != nil {
		return nil, err
	}
	engine.twoFactor = twoFactor

	// -------- SESSIONS --------
	sessions, err := session.NewManager(sessionStore, session.Config{
		TTL:                   cfg.Session.TTL,
		MaxConcurrentSessions: cfg.Session.MaxConcurrentSessions,
		MaxDistinctOrigins:    cfg.Suspicious.MaxDistinctOrigins,
		MaxDistinctLocations:  cfg.Suspicious.MaxDistinctLocations,
		SuspiciousWindow:      cfg.Suspicious.Window,
		RevokeOnSuspicious:    cfg.Suspicious.RevokeOnDetection,
		KeepRecent:            cfg.Suspicious.KeepRecent,
		RetentionWindow:       cfg.Session.RetentionWindow,
		SweepBatch:            cfg.Session.SweepBatch,
	},
		session.WithClock(now),
		session.WithLogger(logger.Named("session")),
		session.WithListener(engine.onSessionEvent),
	)
	if err != nil {
		return nil, err
	}
	engine.sessions = sessions
	engine.sweeper = session.NewSweeper(sessions, cfg.Session.SweepInterval, logger.Named("sweeper"))

	for _, w := range cfg.Lint().AtLeast(LintWarn) {
		logger.Warn("config lint", zap.String("code", w.Code), zap.String("message", w.Message))
	}

	b.built = true
	return engine, nil
}
