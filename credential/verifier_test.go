package credential

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore/attempt"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/password"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memProvider struct {
	mu      sync.Mutex
	byEmail map[string]identity.Record
	err     error
	updated map[int64]string
}

func (m *memProvider) FindByID(_ context.Context, id int64) (identity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byEmail {
		if r.ID == id {
			return r, nil
		}
	}
	return identity.Record{}, identity.ErrNotFound
}

func (m *memProvider) FindByEmail(_ context.Context, email string) (identity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return identity.Record{}, m.err
	}
	r, ok := m.byEmail[email]
	if !ok {
		return identity.Record{}, identity.ErrNotFound
	}
	return r, nil
}

func (m *memProvider) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updated == nil {
		m.updated = map[int64]string{}
	}
	m.updated[id] = hash
	return nil
}

type memRecorder struct {
	mu       sync.Mutex
	attempts []attempt.LoginAttempt
	err      error
}

func (m *memRecorder) Record(_ context.Context, a attempt.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return m.err
}

func newHasher(t *testing.T) *password.Hasher {
	t.Helper()
	h, err := password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	return h
}

func fixture(t *testing.T) (*memProvider, *password.Hasher) {
	t.Helper()
	h := newHasher(t)
	hash, err := h.Hash("correct-horse")
	require.NoError(t, err)
	return &memProvider{byEmail: map[string]identity.Record{
		"alice@example.com": {Principal: identity.Principal{ID: 1, Email: "alice@example.com", RoleID: 2, Active: true}, PasswordHash: hash},
		"bob@example.com":   {Principal: identity.Principal{ID: 2, Email: "bob@example.com", RoleID: 2, Active: false}, PasswordHash: hash},
	}}, h
}

func TestVerifyOutcomesRecordExactlyOneAttempt(t *testing.T) {
	provider, hasher := fixture(t)

	cases := []struct {
		name       string
		identifier string
		secret     string
		wantErr    error
		wantReason string
	}{
		{"success", "  Alice@Example.com ", "correct-horse", nil, attempt.ReasonSuccess},
		{"wrong secret", "alice@example.com", "wrong-horse", ErrInvalidCredentials, attempt.ReasonPasswordMismatch},
		{"unknown", "nobody@example.com", "correct-horse", ErrInvalidCredentials, attempt.ReasonUserNotFound},
		{"inactive", "bob@example.com", "correct-horse", ErrInactive, attempt.ReasonAccountInactive},
		{"inactive wrong secret", "bob@example.com", "wrong-horse", ErrInactive, attempt.ReasonAccountInactive},
		{"empty", "alice@example.com", "", ErrInvalidCredentials, attempt.ReasonEmptySecret},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &memRecorder{}
			v := NewVerifier(provider, hasher, rec)

			p, err := v.Verify(context.Background(), Request{Identifier: tc.identifier, Secret: tc.secret, IP: "10.0.0.1"})
			if tc.wantErr == nil {
				require.NoError(t, err)
				require.EqualValues(t, 1, p.ID)
			} else {
				require.ErrorIs(t, err, tc.wantErr)
			}

			require.Len(t, rec.attempts, 1)
			require.Equal(t, tc.wantReason, rec.attempts[0].Reason)
			require.Equal(t, tc.wantErr == nil, rec.attempts[0].Success)
			require.Equal(t, "10.0.0.1", rec.attempts[0].IP)
		})
	}
}

func TestVerifyRecorderFailureDoesNotBlock(t *testing.T) {
	provider, hasher := fixture(t)
	rec := &memRecorder{err: errors.New("sink down")}
	v := NewVerifier(provider, hasher, rec)

	_, err := v.Verify(context.Background(), Request{Identifier: "alice@example.com", Secret: "correct-horse"})
	require.NoError(t, err)
	require.Len(t, rec.attempts, 1)
}

func TestVerifyProviderErrorPropagates(t *testing.T) {
	provider, hasher := fixture(t)
	boom := errors.New("db down")
	provider.err = boom
	rec := &memRecorder{}
	v := NewVerifier(provider, hasher, rec)

	_, err := v.Verify(context.Background(), Request{Identifier: "alice@example.com", Secret: "correct-horse"})
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
	require.Len(t, rec.attempts, 1)
	require.Equal(t, attempt.ReasonLookupFailed, rec.attempts[0].Reason)
}

func TestVerifyClassifyRefinesReason(t *testing.T) {
	provider, hasher := fixture(t)
	rec := &memRecorder{}
	v := NewVerifier(provider, hasher, rec)

	_, err := v.Verify(context.Background(), Request{
		Identifier: "alice@example.com",
		Secret:     "correct-horse",
		Classify: func(context.Context, identity.Principal) (string, error) {
			return attempt.ReasonTwoFactorRequired, nil
		},
	})
	require.NoError(t, err)
	require.Len(t, rec.attempts, 1)
	require.Equal(t, attempt.ReasonTwoFactorRequired, rec.attempts[0].Reason)
	require.True(t, rec.attempts[0].Success)
}

func TestVerifyUpgradesLegacyHash(t *testing.T) {
	hasher := newHasher(t)
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-secret"), bcrypt.MinCost)
	require.NoError(t, err)
	provider := &memProvider{byEmail: map[string]identity.Record{
		"old@example.com": {Principal: identity.Principal{ID: 9, Email: "old@example.com", Active: true}, PasswordHash: string(legacy)},
	}}
	v := NewVerifier(provider, hasher, nil, WithHashUpgrade(true))

	_, err = v.Verify(context.Background(), Request{Identifier: "old@example.com", Secret: "legacy-secret"})
	require.NoError(t, err)
	require.Contains(t, provider.updated, int64(9))
	require.False(t, password.IsBcrypt(provider.updated[9]))
}
