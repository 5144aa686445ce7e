package authcore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/attempt"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-battery"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testPasswordConfig() password.Config {
	return password.Config{
		Memory:           8 * 1024,
		Time:             1,
		Parallelism:      1,
		SaltLength:       16,
		KeyLength:        16,
		MaxPasswordBytes: password.DefaultMaxPasswordBytes,
	}
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.PrivateKey = testSecret
	cfg.Password.Config = testPasswordConfig()
	cfg.Audit.Enabled = false
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memProvider struct {
	mu      sync.RWMutex
	byID    map[int64]identity.Record
	byEmail map[string]int64
	hasher  *password.Argon2
}

func newMemProvider(t *testing.T) *memProvider {
	t.Helper()
	h, err := password.NewArgon2(testPasswordConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return &memProvider{
		byID:    map[int64]identity.Record{},
		byEmail: map[string]int64{},
		hasher:  h,
	}
}

func (p *memProvider) add(t *testing.T, id int64, email string, active bool) identity.Principal {
	t.Helper()
	hash, err := p.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	rec := identity.Record{
		Principal: identity.Principal{
			ID:          id,
			Email:       email,
			DisplayName: strings.Split(email, "@")[0],
			RoleID:      2,
			Active:      active,
		},
		PasswordHash: hash,
	}
	p.mu.Lock()
	p.byID[id] = rec
	p.byEmail[email] = id
	p.mu.Unlock()
	return rec.Principal
}

func (p *memProvider) setActive(id int64, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := p.byID[id]
	rec.Active = active
	p.byID[id] = rec
}

func (p *memProvider) FindByID(_ context.Context, id int64) (identity.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.byID[id]
	if !ok {
		return identity.Record{}, identity.ErrNotFound
	}
	return rec, nil
}

func (p *memProvider) FindByEmail(_ context.Context, email string) (identity.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byEmail[email]
	if !ok {
		return identity.Record{}, identity.ErrNotFound
	}
	return p.byID[id], nil
}

type captureRecorder struct {
	mu       sync.Mutex
	attempts []attempt.LoginAttempt
}

func (r *captureRecorder) Record(_ context.Context, a attempt.LoginAttempt) error {
	r.mu.Lock()
	r.attempts = append(r.attempts, a)
	r.mu.Unlock()
	return nil
}

func (r *captureRecorder) all() []attempt.LoginAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]attempt.LoginAttempt(nil), r.attempts...)
}

type testEnv struct {
	engine   *Engine
	users    *memProvider
	clock    *testClock
	redis    *miniredis.Miniredis
	attempts *captureRecorder
}

func newTestEnv(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		users:    newMemProvider(t),
		clock:    newTestClock(),
		redis:    mr,
		attempts: &captureRecorder{},
	}
	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(env.users).
		WithAttemptRecorder(env.attempts).
		WithClock(env.clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) login(t *testing.T, ctx context.Context, email string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(ctx, email, testPassword)
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", email, err)
	}
	return res
}
