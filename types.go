package authcore

import (
	"time"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/totp"
)

// PrincipalView is the caller-facing subset of an identity.
type PrincipalView struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	RoleID      int64  `json:"roleId"`
}

func viewOf(p identity.Principal) *PrincipalView {
	return &PrincipalView{ID: p.ID, Email: p.Email, DisplayName: p.DisplayName, RoleID: p.RoleID}
}

// LoginResult is returned by Login and CompleteTwoFactor.
//
// When RequiresTwoFactor is true only TempToken is set and no session exists yet.
// Otherwise AccessToken, RefreshToken and Principal are set and TempToken is empty.
type LoginResult struct {
	RequiresTwoFactor bool           `json:"requiresTwoFactor"`
	TempToken         string         `json:"tempToken,omitempty"`
	AccessToken       string         `json:"accessToken,omitempty"`
	RefreshToken      string         `json:"refreshToken,omitempty"`
	Principal         *PrincipalView `json:"user,omitempty"`
	SessionID         string         `json:"sessionId,omitempty"`
}

// SessionInfo is the listing shape of an active session. Token digests are not exposed.
type SessionInfo struct {
	ID                string       `json:"id"`
	Type              session.Type `json:"type"`
	IP                string       `json:"ip,omitempty"`
	UserAgent         string       `json:"userAgent,omitempty"`
	DeviceFingerprint string       `json:"deviceFingerprint,omitempty"`
	Location          string       `json:"location,omitempty"`
	LoginAt           time.Time    `json:"loginAt"`
	LastActivityAt    time.Time    `json:"lastActivityAt"`
	ExpiresAt         time.Time    `json:"expiresAt"`
	TwoFactorVerified bool         `json:"twoFactorVerified"`
}

func sessionInfo(s *session.Session) SessionInfo {
	return SessionInfo{
		ID:                s.ID,
		Type:              s.Type,
		IP:                s.IP,
		UserAgent:         s.UserAgent,
		DeviceFingerprint: s.DeviceFingerprint,
		Location:          s.Location,
		LoginAt:           s.LoginAt,
		LastActivityAt:    s.LastActivityAt,
		ExpiresAt:         s.ExpiresAt,
		TwoFactorVerified: s.TwoFactorVerified,
	}
}

// AuthResult is the outcome of a successful ValidateAccess.
type AuthResult struct {
	PrincipalID int64  `json:"principalId"`
	Email       string `json:"email"`
	RoleID      int64  `json:"roleId"`
	SessionID   string `json:"sessionId"`
	TokenID     string `json:"tokenId"`
}

// TwoFactorSetup carries a new secret, its provisioning URI and the one-time
// display of backup codes.
type TwoFactorSetup = totp.Setup

// TwoFactorStatus summarizes a principal's second factor.
type TwoFactorStatus = totp.Status

// SuspiciousReport is the outcome of DetectSuspiciousActivity.
type SuspiciousReport = session.Report
