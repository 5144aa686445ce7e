//go:build integration

package totp

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := os.Getenv("AUTHCORE_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("AUTHCORE_TEST_MYSQL_DSN not set")
	}
	db, err := gorm.Open(mysql.New(mysql.Config{DSN: dsn, DefaultStringSize: 191}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := NewGormStore(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

func TestGormStoreBackupCodeSingleUse(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()
	p := alice
	p.ID = time.Now().UnixNano()

	e, err := NewEngine(s, DefaultConfig(), nil)
	require.NoError(t, err)
	setup, err := e.GenerateSecret(ctx, p)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := e.Verify(ctx, p.ID, setup.BackupCodes[0]); err == nil && ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, successes.Load())

	rec, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, rec.BackupCodes, 9)

	_, err = s.Get(ctx, p.ID+1)
	require.ErrorIs(t, err, ErrNotConfigured)
}
