package session

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
	StatusInactive Status = "inactive"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusRevoked || s == StatusInactive
}

// Type classifies the client that owns a session.
type Type string

const (
	TypeWeb    Type = "web"
	TypeMobile Type = "mobile"
	TypeAPI    Type = "api"
)

// Invalidation reasons recorded on terminated sessions.
const (
	ReasonConcurrentLimit   = "concurrent session limit exceeded"
	ReasonSuspicious        = "suspicious activity detected"
	ReasonExpired           = "expired"
	ReasonLogout            = "logout"
	ReasonLogoutAll         = "logout all sessions"
	ReasonPrincipalInactive = "principal inactive"
	ReasonAdministrative    = "administrative revocation"
)

// Session binds a principal to an issued token pair. Tokens are held only as digests.
type Session struct {
	ID                string            `json:"id"`
	PrincipalID       int64             `json:"principalId"`
	AccessHash        string            `json:"-"`
	RefreshHash       string            `json:"-"`
	Status            Status            `json:"status"`
	Type              Type              `json:"type"`
	IP                string            `json:"ip,omitempty"`
	UserAgent         string            `json:"userAgent,omitempty"`
	DeviceFingerprint string            `json:"deviceFingerprint,omitempty"`
	Location          string            `json:"location,omitempty"`
	ExpiresAt         time.Time         `json:"expiresAt"`
	LastActivityAt    time.Time         `json:"lastActivityAt"`
	LoginAt           time.Time         `json:"loginAt"`
	LogoutAt          time.Time         `json:"logoutAt,omitempty"`
	TwoFactorVerified bool              `json:"twoFactorVerified"`
	Reason            string            `json:"reason,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// ExpiredAt reports whether the session's expiry has passed at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Meta is the device and network context captured at session creation.
type Meta struct {
	Type              Type
	IP                string
	UserAgent         string
	DeviceFingerprint string
	Location          string
	TwoFactorVerified bool
	Extra             map[string]string
}

// HashToken returns the hex SHA-256 digest under which a token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// sortByActivity orders sessions most recently active first, ties by newest login.
func sortByActivity(list []*Session) {
	slices.SortFunc(list, func(a, b *Session) int {
		if c := b.LastActivityAt.Compare(a.LastActivityAt); c != 0 {
			return c
		}
		return b.LoginAt.Compare(a.LoginAt)
	})
}
