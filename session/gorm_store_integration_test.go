//go:build integration

package session

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	m, clock, _ := newGormManagerWithStore(t)
	return m, clock
}

func newGormManagerWithStore(t *testing.T) (*Manager, *fakeClock, *GormStore) {
	t.Helper()
	dsn := os.Getenv("AUTHCORE_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("AUTHCORE_TEST_MYSQL_DSN not set")
	}
	db, err := gorm.Open(mysql.New(mysql.Config{DSN: dsn, DefaultStringSize: 191}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewGormStore(db)
	require.NoError(t, store.AutoMigrate())

	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	m, err := NewManager(store, DefaultConfig(), WithClock(clock.Now))
	require.NoError(t, err)
	return m, clock, store
}

func TestGormStoreLifecycle(t *testing.T) {
	m, clock := newGormManager(t)
	ctx := context.Background()
	pid := time.Now().UnixNano()

	var first *Session
	for i := 0; i < 6; i++ {
		s, err := m.Create(ctx, CreateInput{
			PrincipalID:  pid,
			AccessToken:  fmt.Sprintf("gorm-access-%d-%d", pid, i),
			RefreshToken: fmt.Sprintf("gorm-refresh-%d-%d", pid, i),
		})
		require.NoError(t, err)
		if i == 0 {
			first = s
		}
		clock.Advance(time.Second)
	}

	active, err := m.ListActive(ctx, pid)
	require.NoError(t, err)
	require.Len(t, active, 5)

	evicted, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRevoked, evicted.Status)
	require.Equal(t, ReasonConcurrentLimit, evicted.Reason)

	require.NoError(t, m.Revoke(ctx, active[0].ID, ReasonLogout))
	require.NoError(t, m.Revoke(ctx, active[0].ID, ReasonLogout))

	n, err := m.RevokeAll(ctx, pid, ReasonLogoutAll)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	clock.Advance(m.Config().RetentionWindow + time.Hour)
	purged, err := m.PurgeTerminated(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, purged, 6)
}

func TestGormStoreTouchSameTimestamp(t *testing.T) {
	m, clock, store := newGormManagerWithStore(t)
	ctx := context.Background()
	pid := time.Now().UnixNano()

	s, err := m.Create(ctx, CreateInput{
		PrincipalID:  pid,
		AccessToken:  fmt.Sprintf("gorm-touch-access-%d", pid),
		RefreshToken: fmt.Sprintf("gorm-touch-refresh-%d", pid),
	})
	require.NoError(t, err)

	at := clock.Now().Add(time.Second)
	require.NoError(t, store.Touch(ctx, s.ID, at))
	require.NoError(t, store.Touch(ctx, s.ID, at))

	_, err = m.Validate(ctx, s.AccessHash)
	require.NoError(t, err)
	_, err = m.Validate(ctx, s.AccessHash)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, s.ID, ReasonLogout))
	require.ErrorIs(t, store.Touch(ctx, s.ID, at), ErrNotActive)
	require.ErrorIs(t, store.Touch(ctx, "missing-session-id", at), ErrNotFound)
}

func TestGormStoreRevokeAllButRecent(t *testing.T) {
	m, clock, store := newGormManagerWithStore(t)
	ctx := context.Background()
	pid := time.Now().UnixNano()

	var newest *Session
	for i := 0; i < 4; i++ {
		s, err := m.Create(ctx, CreateInput{
			PrincipalID:  pid,
			AccessToken:  fmt.Sprintf("gorm-keep-access-%d-%d", pid, i),
			RefreshToken: fmt.Sprintf("gorm-keep-refresh-%d-%d", pid, i),
		})
		require.NoError(t, err)
		newest = s
		clock.Advance(time.Second)
	}

	revoked, err := store.RevokeAllButRecent(ctx, pid, 1, ReasonSuspicious, clock.Now())
	require.NoError(t, err)
	require.Len(t, revoked, 3)
	require.NotContains(t, revoked, newest.ID)

	active, err := m.ListActive(ctx, pid)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, newest.ID, active[0].ID)
}
