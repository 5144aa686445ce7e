package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/password"
	"github.com/alicebob/miniredis/v2"
	pqtotp "github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse-battery"

type staticProvider map[string]identity.Record

func (p staticProvider) FindByID(_ context.Context, id int64) (identity.Record, error) {
	for _, rec := range p {
		if rec.ID == id {
			return rec, nil
		}
	}
	return identity.Record{}, identity.ErrNotFound
}

func (p staticProvider) FindByEmail(_ context.Context, email string) (identity.Record, error) {
	rec, ok := p[email]
	if !ok {
		return identity.Record{}, identity.ErrNotFound
	}
	return rec, nil
}

func newEngine(t *testing.T) *authcore.Engine {
	t.Helper()
	pwCfg := password.Config{
		Memory:           8 * 1024,
		Time:             1,
		Parallelism:      1,
		SaltLength:       16,
		KeyLength:        16,
		MaxPasswordBytes: password.DefaultMaxPasswordBytes,
	}
	hasher, err := password.NewArgon2(pwCfg)
	require.NoError(t, err)
	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)

	users := staticProvider{}
	for i, email := range []string{"alice@example.com", "bob@example.com"} {
		users[email] = identity.Record{
			Principal:    identity.Principal{ID: int64(i + 1), Email: email, RoleID: 2, Active: true},
			PasswordHash: hash,
		}
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Config = pwCfg
	cfg.Audit.Enabled = false

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(users).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGuardAcceptsAccessToken(t *testing.T) {
	engine := newEngine(t)
	res, err := engine.Login(context.Background(), "alice@example.com", testPassword)
	require.NoError(t, err)

	var got *authcore.AuthResult
	h := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = AuthResultFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := serve(h, "bearer "+res.AccessToken)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, got)
	require.Equal(t, int64(1), got.PrincipalID)
	require.Equal(t, res.SessionID, got.SessionID)
}

func TestGuardRejections(t *testing.T) {
	engine := newEngine(t)
	res, err := engine.Login(context.Background(), "alice@example.com", testPassword)
	require.NoError(t, err)
	require.NoError(t, engine.Logout(context.Background(), res.AccessToken))

	h := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run")
	}))

	cases := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "empty bearer", header: "Bearer   "},
		{name: "garbage", header: "Bearer not-a-jwt"},
		{name: "revoked session", header: "Bearer " + res.AccessToken},
		{name: "refresh token", header: "Bearer " + res.RefreshToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(h, tc.header)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestGuardNilEngine(t *testing.T) {
	h := Guard(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	require.Equal(t, http.StatusUnauthorized, serve(h, "Bearer x").Code)
}

func TestPendingTwoFactorFlow(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	setup, err := engine.GenerateTwoFactorSecret(ctx, 2)
	require.NoError(t, err)
	code, err := pqtotp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, engine.EnableTwoFactor(ctx, 2, code))

	res, err := engine.Login(ctx, "bob@example.com", testPassword)
	require.NoError(t, err)
	require.True(t, res.RequiresTwoFactor)

	guarded := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	require.Equal(t, http.StatusForbidden, serve(guarded, "Bearer "+res.TempToken).Code)

	var completed *authcore.LoginResult
	complete := RequirePendingTwoFactor()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := PendingTokenFromContext(r.Context())
		require.True(t, ok)
		code, err := pqtotp.GenerateCode(setup.Secret, time.Now())
		require.NoError(t, err)
		completed, err = engine.CompleteTwoFactor(r.Context(), token, code)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	require.Equal(t, http.StatusUnauthorized, serve(complete, "").Code)
	require.Equal(t, http.StatusOK, serve(complete, "Bearer "+res.TempToken).Code)
	require.NotNil(t, completed)
	require.Equal(t, http.StatusOK, serve(guarded, "Bearer "+completed.AccessToken).Code)
}

func TestClientContextRecordsOrigin(t *testing.T) {
	engine := newEngine(t)

	var sessionID string
	h := ClientContext(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := engine.Login(r.Context(), "alice@example.com", testPassword)
		require.NoError(t, err)
		sessionID = res.SessionID
	}))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "192.0.2.1:4567"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", "curl/8.0")
	h.ServeHTTP(httptest.NewRecorder(), req)

	sessions, err := engine.ActiveSessions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, sessionID, sessions[0].ID)
	require.Equal(t, "203.0.113.9", sessions[0].IP)
	require.Equal(t, "curl/8.0", sessions[0].UserAgent)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	require.Equal(t, "198.51.100.7", clientIP(req, false))
	require.Equal(t, "203.0.113.9", clientIP(req, true))

	req.RemoteAddr = "not-an-addr"
	require.Equal(t, "not-an-addr", clientIP(req, false))
}
