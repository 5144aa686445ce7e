package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(_ context.Context, ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeClock, *eventLog) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	events := &eventLog{}
	m, err := NewManager(NewRedisStore(rdb, "test", time.Hour), cfg,
		WithClock(clock.Now), WithListener(events.listen))
	require.NoError(t, err)
	return m, clock, events
}

func open(t *testing.T, m *Manager, pid int64, n int, meta Meta) *Session {
	t.Helper()
	s, err := m.Create(context.Background(), CreateInput{
		PrincipalID:  pid,
		AccessToken:  fmt.Sprintf("access-%d-%d", pid, n),
		RefreshToken: fmt.Sprintf("refresh-%d-%d", pid, n),
		Meta:         meta,
	})
	require.NoError(t, err)
	return s
}

func TestCreateEvictsLeastRecentlyActive(t *testing.T) {
	m, clock, events := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	var sessions []*Session
	for i := 0; i < 5; i++ {
		sessions = append(sessions, open(t, m, 7, i, Meta{IP: "10.0.0.1"}))
		clock.Advance(time.Second)
	}

	// Using the first session makes the second the least recently active.
	_, err := m.Validate(ctx, HashToken("access-7-0"))
	require.NoError(t, err)
	clock.Advance(time.Second)

	sixth := open(t, m, 7, 5, Meta{IP: "10.0.0.1"})

	active, err := m.ListActive(ctx, 7)
	require.NoError(t, err)
	require.Len(t, active, 5)
	require.Equal(t, sixth.ID, active[0].ID)

	evicted, err := m.Get(ctx, sessions[1].ID)
	require.NoError(t, err)
	require.Equal(t, StatusRevoked, evicted.Status)
	require.Equal(t, ReasonConcurrentLimit, evicted.Reason)
	require.Equal(t, 1, events.count(EventEvicted))

	_, err = m.Validate(ctx, HashToken("access-7-1"))
	require.ErrorIs(t, err, ErrNotActive)
}

func TestCreateWithoutLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentSessions = 0
	m, clock, _ := newTestManager(t, cfg)

	for i := 0; i < 8; i++ {
		open(t, m, 3, i, Meta{})
		clock.Advance(time.Second)
	}
	active, err := m.ListActive(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, active, 8)
}

func TestCreateDefaultsToWebType(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig())
	s := open(t, m, 1, 0, Meta{Extra: map[string]string{"app": "console"}})
	require.Equal(t, TypeWeb, s.Type)

	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, "console", got.Metadata["app"])
	require.Equal(t, HashToken("refresh-1-0"), got.RefreshHash)
}

func TestValidateExpiresLazily(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Hour
	m, clock, events := newTestManager(t, cfg)
	ctx := context.Background()
	s := open(t, m, 1, 0, Meta{})

	got, err := m.Validate(ctx, HashToken("access-1-0"))
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)

	clock.Advance(time.Hour)
	_, err = m.Validate(ctx, HashToken("access-1-0"))
	require.ErrorIs(t, err, ErrExpired)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, StatusExpired, se.Status)

	stored, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, stored.Status)
	require.Equal(t, ReasonExpired, stored.Reason)

	_, err = m.Validate(ctx, HashToken("access-1-0"))
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, 1, events.count(EventExpired))
}

func TestValidateUnknownToken(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig())
	_, err := m.Validate(context.Background(), HashToken("nope"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshRotatesAccessDigest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Hour
	m, clock, _ := newTestManager(t, cfg)
	ctx := context.Background()
	s := open(t, m, 1, 0, Meta{})

	clock.Advance(30 * time.Minute)
	expiry := clock.Now().Add(time.Hour)
	refreshed, err := m.Refresh(ctx, HashToken("refresh-1-0"), "access-new", expiry)
	require.NoError(t, err)
	require.Equal(t, s.ID, refreshed.ID)
	require.True(t, refreshed.ExpiresAt.Equal(expiry))

	_, err = m.Validate(ctx, HashToken("access-1-0"))
	require.ErrorIs(t, err, ErrNotFound)

	got, err := m.Validate(ctx, HashToken("access-new"))
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)

	// The new expiry replaces the original one.
	clock.Advance(45 * time.Minute)
	_, err = m.Validate(ctx, HashToken("access-new"))
	require.NoError(t, err)
}

func TestRefreshRejectsTerminatedSession(t *testing.T) {
	m, clock, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()
	s := open(t, m, 1, 0, Meta{})
	require.NoError(t, m.Revoke(ctx, s.ID, ReasonLogout))

	_, err := m.Refresh(ctx, HashToken("refresh-1-0"), "access-new", clock.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrNotActive)

	_, err = m.Refresh(ctx, HashToken("unknown"), "access-new", clock.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeIsIdempotent(t *testing.T) {
	m, _, events := newTestManager(t, DefaultConfig())
	ctx := context.Background()
	s := open(t, m, 1, 0, Meta{})

	require.NoError(t, m.Revoke(ctx, s.ID, ReasonLogout))
	require.NoError(t, m.Revoke(ctx, s.ID, ReasonAdministrative))
	require.Equal(t, 1, events.count(EventRevoked))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRevoked, got.Status)
	require.Equal(t, ReasonLogout, got.Reason)
	require.False(t, got.LogoutAt.IsZero())

	_, err = m.Validate(ctx, HashToken("access-1-0"))
	require.ErrorIs(t, err, ErrNotActive)
	require.NotErrorIs(t, err, ErrExpired)

	require.ErrorIs(t, m.Revoke(ctx, "missing", ReasonLogout), ErrNotFound)
}

func TestRevokeAll(t *testing.T) {
	m, clock, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		open(t, m, 1, i, Meta{})
		clock.Advance(time.Second)
	}
	other := open(t, m, 2, 0, Meta{})

	n, err := m.RevokeAll(ctx, 1, ReasonLogoutAll)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = m.RevokeAll(ctx, 1, ReasonLogoutAll)
	require.NoError(t, err)
	require.Zero(t, n)

	active, err := m.ListActive(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, active)

	got, err := m.Get(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)
}

func TestDeactivatePrincipal(t *testing.T) {
	m, clock, events := newTestManager(t, DefaultConfig())
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		open(t, m, 1, i, Meta{})
		clock.Advance(time.Second)
	}

	n, err := m.DeactivatePrincipal(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, events.count(EventInactive))

	_, err = m.Validate(ctx, HashToken("access-1-0"))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, StatusInactive, se.Status)
}

func TestSweepExpired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Hour
	cfg.SweepBatch = 2
	m, clock, _ := newTestManager(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		open(t, m, 1, i, Meta{})
	}
	long, err := m.Create(ctx, CreateInput{PrincipalID: 1, AccessToken: "long", TTL: 3 * time.Hour})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = m.SweepExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	active, err := m.ListActive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, long.ID, active[0].ID)
}

func TestListActiveExpiresPastDue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Hour
	m, clock, _ := newTestManager(t, cfg)
	ctx := context.Background()
	s := open(t, m, 1, 0, Meta{})

	clock.Advance(2 * time.Hour)
	active, err := m.ListActive(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, active)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)
}

func TestConcurrentRevokeTransitionsOnce(t *testing.T) {
	m, _, events := newTestManager(t, DefaultConfig())
	ctx := context.Background()
	s := open(t, m, 1, 0, Meta{})

	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		failure atomic.Value
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.store.Transition(ctx, s.ID, StatusRevoked, ReasonLogout, time.Now())
			if err != nil {
				failure.Store(err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Nil(t, failure.Load())
	require.EqualValues(t, 1, wins.Load())
	require.Zero(t, events.count(EventRevoked))
}

func TestDetectSuspiciousRevokesAllButNewest(t *testing.T) {
	m, clock, events := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	locations := []string{"Berlin", "Lagos", "Lima", "Oslo"}
	var last *Session
	for i, loc := range locations {
		last = open(t, m, 1, i, Meta{IP: fmt.Sprintf("203.0.113.%d", i+1), Location: loc})
		clock.Advance(time.Minute)
	}

	report, err := m.DetectSuspicious(ctx, 1, 0)
	require.NoError(t, err)
	require.True(t, report.IsSuspicious)
	require.Equal(t, RiskHigh, report.RiskLevel)
	require.Len(t, report.Indicators, 2)
	require.Len(t, report.Revoked, 3)
	require.Equal(t, 1, events.count(EventSuspicious))

	active, err := m.ListActive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, last.ID, active[0].ID)

	for _, id := range report.Revoked {
		s, err := m.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, ReasonSuspicious, s.Reason)
	}
}

// loginDuringRevoke lets a login land after the suspicious-activity scan has
// read the principal's sessions but before the revocation runs.
type loginDuringRevoke struct {
	Store
	login func()
}

func (s *loginDuringRevoke) RevokeAllButRecent(ctx context.Context, principalID int64, keep int, reason string, at time.Time) ([]string, error) {
	if s.login != nil {
		login := s.login
		s.login = nil
		login()
	}
	return s.Store.RevokeAllButRecent(ctx, principalID, keep, reason, at)
}

func TestDetectSuspiciousKeepsLoginThatRacesRevocation(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	store := &loginDuringRevoke{Store: NewRedisStore(rdb, "test", time.Hour)}
	m, err := NewManager(store, DefaultConfig(), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	for i, loc := range []string{"Berlin", "Lagos", "Lima", "Oslo"} {
		open(t, m, 1, i, Meta{IP: fmt.Sprintf("203.0.113.%d", i+1), Location: loc})
		clock.Advance(time.Minute)
	}
	var late *Session
	store.login = func() {
		late = open(t, m, 1, 9, Meta{IP: "203.0.113.9", Location: "Quito"})
	}

	report, err := m.DetectSuspicious(ctx, 1, 0)
	require.NoError(t, err)
	require.NotNil(t, late)
	require.Len(t, report.Revoked, 4)
	require.NotContains(t, report.Revoked, late.ID)

	active, err := m.ListActive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, late.ID, active[0].ID)
}

func TestDetectSuspiciousMediumRiskWithoutRevocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RevokeOnSuspicious = false
	m, clock, _ := newTestManager(t, cfg)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		open(t, m, 1, i, Meta{IP: fmt.Sprintf("198.51.100.%d", i+1), Location: "Berlin"})
		clock.Advance(time.Minute)
	}

	report, err := m.DetectSuspicious(ctx, 1, time.Hour)
	require.NoError(t, err)
	require.True(t, report.IsSuspicious)
	require.Equal(t, RiskMedium, report.RiskLevel)
	require.Empty(t, report.Revoked)

	active, err := m.ListActive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 4)
}

func TestDetectSuspiciousIgnoresOldSessions(t *testing.T) {
	m, clock, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		open(t, m, 1, i, Meta{IP: fmt.Sprintf("198.51.100.%d", i+1)})
	}
	clock.Advance(48 * time.Hour)
	open(t, m, 1, 9, Meta{IP: "198.51.100.9"})

	report, err := m.DetectSuspicious(ctx, 1, 0)
	require.NoError(t, err)
	require.False(t, report.IsSuspicious)
	require.Equal(t, RiskLow, report.RiskLevel)
	require.Empty(t, report.Indicators)
}

func TestSweeperRunOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Minute
	m, clock, _ := newTestManager(t, cfg)
	open(t, m, 1, 0, Meta{})
	clock.Advance(time.Hour)

	sw := NewSweeper(m, time.Hour, nil)
	expired, purged, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	require.Zero(t, purged)

	sw.Start(context.Background())
	sw.Start(context.Background())
	sw.Stop()
	sw.Stop()
}
