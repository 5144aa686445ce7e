package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the session policy. Zero values are replaced by DefaultConfig values.
type Config struct {
	TTL                   time.Duration `yaml:"ttl" toml:"ttl"`
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions" toml:"max_concurrent_sessions"`
	MaxDistinctOrigins    int           `yaml:"max_distinct_origins" toml:"max_distinct_origins"`
	MaxDistinctLocations  int           `yaml:"max_distinct_locations" toml:"max_distinct_locations"`
	SuspiciousWindow      time.Duration `yaml:"suspicious_window" toml:"suspicious_window"`
	RevokeOnSuspicious    bool          `yaml:"revoke_on_suspicious" toml:"revoke_on_suspicious"`
	KeepRecent            int           `yaml:"keep_recent" toml:"keep_recent"`
	RetentionWindow       time.Duration `yaml:"retention_window" toml:"retention_window"`
	SweepBatch            int           `yaml:"sweep_batch" toml:"sweep_batch"`
}

// DefaultConfig returns a 7 day TTL, a cap of 5 concurrent sessions and a
// 24 hour suspicious-activity window.
func DefaultConfig() Config {
	return Config{
		TTL:                   7 * 24 * time.Hour,
		MaxConcurrentSessions: 5,
		MaxDistinctOrigins:    3,
		MaxDistinctLocations:  2,
		SuspiciousWindow:      24 * time.Hour,
		RevokeOnSuspicious:    true,
		KeepRecent:            1,
		RetentionWindow:       30 * 24 * time.Hour,
		SweepBatch:            500,
	}
}

// EventKind names lifecycle notifications emitted by the Manager.
type EventKind string

const (
	EventCreated    EventKind = "created"
	EventEvicted    EventKind = "evicted"
	EventExpired    EventKind = "expired"
	EventRevoked    EventKind = "revoked"
	EventInactive   EventKind = "inactive"
	EventRefreshed  EventKind = "refreshed"
	EventSuspicious EventKind = "suspicious"
)

// Event is delivered to the Listener after a state change has been persisted.
type Event struct {
	Kind        EventKind
	SessionID   string
	PrincipalID int64
	Reason      string
}

// Listener observes session lifecycle events. It must not block.
type Listener func(ctx context.Context, ev Event)

// Manager is the session façade used by the login flow. It is safe for
// concurrent use; all coordination happens in the Store.
type Manager struct {
	store    Store
	config   Config
	now      func() time.Time
	logger   *zap.Logger
	listener Listener
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithListener registers a lifecycle listener.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listener = l }
}

// NewManager validates cfg and returns a Manager over store.
func NewManager(store Store, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store required")
	}
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxDistinctOrigins <= 0 {
		cfg.MaxDistinctOrigins = def.MaxDistinctOrigins
	}
	if cfg.MaxDistinctLocations <= 0 {
		cfg.MaxDistinctLocations = def.MaxDistinctLocations
	}
	if cfg.SuspiciousWindow <= 0 {
		cfg.SuspiciousWindow = def.SuspiciousWindow
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = def.RetentionWindow
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = def.SweepBatch
	}
	if cfg.MaxConcurrentSessions < 0 || cfg.KeepRecent < 0 {
		return nil, errors.New("session limits must not be negative")
	}

	m := &Manager{
		store:  store,
		config: cfg,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// CreateInput carries everything needed to open a session.
type CreateInput struct {
	PrincipalID  int64
	AccessToken  string
	RefreshToken string
	Meta         Meta
	// TTL overrides Config.TTL when positive.
	TTL time.Duration
}

// Create opens an active session. When the principal already holds
// MaxConcurrentSessions active sessions, the least recently active ones are
// revoked first. Creation is never rejected because of the cap.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Session, error) {
	if in.PrincipalID <= 0 {
		return nil, errors.New("principal id required")
	}
	if in.AccessToken == "" {
		return nil, errors.New("access token required")
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = m.config.TTL
	}

	now := m.now()
	typ := in.Meta.Type
	if typ == "" {
		typ = TypeWeb
	}
	s := &Session{
		ID:                uuid.NewString(),
		PrincipalID:       in.PrincipalID,
		AccessHash:        HashToken(in.AccessToken),
		Status:            StatusActive,
		Type:              typ,
		IP:                in.Meta.IP,
		UserAgent:         in.Meta.UserAgent,
		DeviceFingerprint: in.Meta.DeviceFingerprint,
		Location:          in.Meta.Location,
		ExpiresAt:         now.Add(ttl),
		LastActivityAt:    now,
		LoginAt:           now,
		TwoFactorVerified: in.Meta.TwoFactorVerified,
		Metadata:          in.Meta.Extra,
	}
	if in.RefreshToken != "" {
		s.RefreshHash = HashToken(in.RefreshToken)
	}

	evicted, err := m.store.Create(ctx, s, m.config.MaxConcurrentSessions, ReasonConcurrentLimit, now)
	if err != nil {
		return nil, err
	}
	for _, id := range evicted {
		m.logger.Info("session evicted",
			zap.String("session_id", id),
			zap.Int64("principal_id", s.PrincipalID),
			zap.String("reason", ReasonConcurrentLimit),
		)
		m.emit(ctx, Event{Kind: EventEvicted, SessionID: id, PrincipalID: s.PrincipalID, Reason: ReasonConcurrentLimit})
	}
	m.emit(ctx, Event{Kind: EventCreated, SessionID: s.ID, PrincipalID: s.PrincipalID})
	return s, nil
}

// Validate resolves an access-token digest to an active session and records
// activity. A session whose expiry has passed is moved to expired here, even if
// the sweeper has not run.
func (m *Manager) Validate(ctx context.Context, accessHash string) (*Session, error) {
	s, err := m.store.FindByAccessHash(ctx, accessHash)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusActive {
		return nil, &StatusError{Status: s.Status}
	}

	now := m.now()
	if s.ExpiredAt(now) {
		return nil, m.expire(ctx, s, now)
	}

	if err := m.store.Touch(ctx, s.ID, now); err != nil {
		if errors.Is(err, ErrNotActive) {
			return nil, m.currentStatus(ctx, s.ID)
		}
		return nil, err
	}
	s.LastActivityAt = now
	return s, nil
}

// Refresh rotates the access digest and expiry of the session that owns
// refreshHash. The session record is reused and its activity is updated.
func (m *Manager) Refresh(ctx context.Context, refreshHash, newAccessToken string, newExpiry time.Time) (*Session, error) {
	s, err := m.store.FindByRefreshHash(ctx, refreshHash)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusActive {
		return nil, &StatusError{Status: s.Status}
	}

	now := m.now()
	if s.ExpiredAt(now) {
		return nil, m.expire(ctx, s, now)
	}
	if !newExpiry.After(now) {
		return nil, fmt.Errorf("refresh expiry %s is not in the future", newExpiry)
	}

	newHash := HashToken(newAccessToken)
	if err := m.store.Rotate(ctx, s.ID, refreshHash, newHash, newExpiry, now); err != nil {
		if errors.Is(err, ErrNotActive) {
			return nil, m.currentStatus(ctx, s.ID)
		}
		return nil, err
	}

	s.AccessHash = newHash
	s.ExpiresAt = newExpiry
	s.LastActivityAt = now
	m.emit(ctx, Event{Kind: EventRefreshed, SessionID: s.ID, PrincipalID: s.PrincipalID})
	return s, nil
}

// Get returns a session by id in any status.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Revoke moves a session to revoked. Revoking a session that is already
// terminal succeeds without changing it; an unknown id fails with ErrNotFound.
func (m *Manager) Revoke(ctx context.Context, id, reason string) error {
	_, err := m.terminate(ctx, id, 0, StatusRevoked, reason)
	return err
}

// RevokeByAccess revokes the session that owns accessHash and returns it. A
// session that is already terminal is returned unchanged.
func (m *Manager) RevokeByAccess(ctx context.Context, accessHash, reason string) (*Session, error) {
	s, err := m.store.FindByAccessHash(ctx, accessHash)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusActive {
		return s, nil
	}
	ok, err := m.terminate(ctx, s.ID, s.PrincipalID, StatusRevoked, reason)
	if err != nil {
		return nil, err
	}
	if ok {
		s.Status = StatusRevoked
		s.Reason = reason
	}
	return s, nil
}

// MarkInactive terminates a session because its principal was deactivated.
func (m *Manager) MarkInactive(ctx context.Context, id string) error {
	_, err := m.terminate(ctx, id, 0, StatusInactive, ReasonPrincipalInactive)
	return err
}

// RevokeAll revokes every active session of the principal and returns the count.
func (m *Manager) RevokeAll(ctx context.Context, principalID int64, reason string) (int, error) {
	ids, err := m.store.RevokeAll(ctx, principalID, nil, reason, m.now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		m.emit(ctx, Event{Kind: EventRevoked, SessionID: id, PrincipalID: principalID, Reason: reason})
	}
	return len(ids), nil
}

// DeactivatePrincipal moves every active session of the principal to inactive.
func (m *Manager) DeactivatePrincipal(ctx context.Context, principalID int64) (int, error) {
	sessions, err := m.store.ListByPrincipal(ctx, principalID, true)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range sessions {
		ok, err := m.terminate(ctx, s.ID, principalID, StatusInactive, ReasonPrincipalInactive)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// ListActive returns the principal's active, unexpired sessions, most recently
// active first. Sessions found past expiry are expired on the way.
func (m *Manager) ListActive(ctx context.Context, principalID int64) ([]*Session, error) {
	sessions, err := m.store.ListByPrincipal(ctx, principalID, true)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := sessions[:0]
	for _, s := range sessions {
		if s.Status != StatusActive {
			continue
		}
		if s.ExpiredAt(now) {
			if err := m.expire(ctx, s, now); err != nil && !errors.Is(err, ErrNotActive) && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// SweepExpired expires every active session whose expiry has passed and returns
// how many it transitioned. It runs safely alongside Validate.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		ids, err := m.store.ExpireDue(ctx, m.now(), m.config.SweepBatch)
		if err != nil {
			return total, err
		}
		total += len(ids)
		for _, id := range ids {
			m.emit(ctx, Event{Kind: EventExpired, SessionID: id, Reason: ReasonExpired})
		}
		if len(ids) < m.config.SweepBatch {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// PurgeTerminated deletes sessions that ended before the retention window.
func (m *Manager) PurgeTerminated(ctx context.Context) (int, error) {
	return m.store.PurgeTerminated(ctx, m.now().Add(-m.config.RetentionWindow))
}

func (m *Manager) expire(ctx context.Context, s *Session, now time.Time) error {
	ok, err := m.store.Transition(ctx, s.ID, StatusExpired, ReasonExpired, now)
	if err != nil {
		return err
	}
	if !ok {
		return m.currentStatus(ctx, s.ID)
	}
	m.emit(ctx, Event{Kind: EventExpired, SessionID: s.ID, PrincipalID: s.PrincipalID, Reason: ReasonExpired})
	return &StatusError{Status: StatusExpired}
}

func (m *Manager) terminate(ctx context.Context, id string, principalID int64, to Status, reason string) (bool, error) {
	ok, err := m.store.Transition(ctx, id, to, reason, m.now())
	if err != nil || !ok {
		return false, err
	}
	if principalID == 0 {
		if s, err := m.store.Get(ctx, id); err == nil {
			principalID = s.PrincipalID
		}
	}
	kind := EventRevoked
	if to == StatusInactive {
		kind = EventInactive
	}
	m.emit(ctx, Event{Kind: kind, SessionID: id, PrincipalID: principalID, Reason: reason})
	return true, nil
}

// currentStatus re-reads a session that lost a compare-and-swap race.
func (m *Manager) currentStatus(ctx context.Context, id string) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status == StatusActive {
		return ErrNotActive
	}
	return &StatusError{Status: s.Status}
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	if m.listener != nil {
		m.listener(ctx, ev)
	}
}
