package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
)

// ValidateAccess verifies an access token and its server-side session.
//
// Temporary tokens fail with ErrTemporaryTokenMisuse. A token whose session was
// revoked or has expired fails with ErrSessionNotActive even while the JWT
// itself is still valid.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTemporaryTokenMisuse):
			return nil, ErrTemporaryTokenMisuse
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenInvalid
		}
	}
	principalID, err := claims.PrincipalID()
	if err != nil {
		return nil, ErrTokenInvalid
	}

	s, err := e.sessions.Validate(ctx, session.HashToken(accessToken))
	if err != nil {
		return nil, sessionStateError(err)
	}
	if s.PrincipalID != principalID {
		return nil, ErrTokenInvalid
	}

	return &AuthResult{
		PrincipalID: principalID,
		Email:       claims.Email,
		RoleID:      claims.RoleID,
		SessionID:   s.ID,
		TokenID:     claims.ID,
	}, nil
}
