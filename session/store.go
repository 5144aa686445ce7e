package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no session matches the lookup key.
	ErrNotFound = errors.New("session not found")
	// ErrNotActive is returned when a mutation requires an active session.
	ErrNotActive = errors.New("session not active")
	// ErrExpired is returned when validation finds a session past its expiry.
	ErrExpired = errors.New("session expired")
	// ErrRedisUnavailable wraps Redis failures. It is infrastructure-level and
	// propagates unmodified through the manager.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrDatabaseUnavailable wraps SQL failures.
	ErrDatabaseUnavailable = errors.New("session database unavailable")
)

// StatusError reports the current status of a session that is not active.
// It matches ErrNotActive, and ErrExpired when the status is expired.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return "session not active: " + string(e.Status)
}

// Is implements errors.Is matching.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotActive || (target == ErrExpired && e.Status == StatusExpired)
}

// Store persists sessions. Every method is atomic; methods that touch several
// sessions of one principal serialize per principal.
type Store interface {
	// Create first expires the principal's past-due active sessions, then revokes
	// the least recently active ones until fewer than limit remain, then inserts s.
	// limit <= 0 disables the cap. It returns the ids of evicted sessions.
	Create(ctx context.Context, s *Session, limit int, evictReason string, now time.Time) ([]string, error)
	Get(ctx context.Context, id string) (*Session, error)
	FindByAccessHash(ctx context.Context, hash string) (*Session, error)
	FindByRefreshHash(ctx context.Context, hash string) (*Session, error)
	// ListByPrincipal returns sessions ordered by most recent activity first.
	ListByPrincipal(ctx context.Context, principalID int64, activeOnly bool) ([]*Session, error)
	// Touch updates LastActivityAt. It fails with ErrNotActive unless the session is active.
	Touch(ctx context.Context, id string, at time.Time) error
	// Transition moves an active session to a terminal status and reports whether
	// this call performed the transition. Unknown ids fail with ErrNotFound.
	Transition(ctx context.Context, id string, to Status, reason string, at time.Time) (bool, error)
	// Rotate replaces the access hash and expiry of an active session whose
	// refresh hash equals refreshHash. Otherwise it fails with ErrNotActive.
	Rotate(ctx context.Context, id, refreshHash, newAccessHash string, newExpiry, at time.Time) error
	// RevokeAll revokes every active session of the principal except the listed ids.
	RevokeAll(ctx context.Context, principalID int64, except []string, reason string, at time.Time) ([]string, error)
	// RevokeAllButRecent revokes every active session of the principal except the
	// keep most recent by login time. The choice of survivors and the revocation
	// happen in one step, so a concurrent login is never revoked in favour of an
	// older session.
	RevokeAllButRecent(ctx context.Context, principalID int64, keep int, reason string, at time.Time) ([]string, error)
	// ExpireDue transitions up to limit active sessions whose expiry is at or before now.
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	// PurgeTerminated hard-deletes terminated sessions that ended before the cutoff.
	PurgeTerminated(ctx context.Context, before time.Time) (int, error)
}
