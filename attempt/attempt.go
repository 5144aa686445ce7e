// Package attempt records append-only login attempts for audit and lockout heuristics.
package attempt

import (
	"context"
	"errors"
	"time"
)

// Reason codes stored with every attempt.
const (
	ReasonSuccess           = "success"
	ReasonTwoFactorRequired = "two_factor_required"
	ReasonUserNotFound      = "user_not_found"
	ReasonAccountInactive   = "account_inactive"
	ReasonPasswordMismatch  = "password_mismatch"
	ReasonEmptySecret       = "empty_secret"
	ReasonRateLimited       = "rate_limited"
	ReasonInvalidCode       = "invalid_two_factor_code"
	ReasonTemporaryInvalid  = "temporary_token_invalid"
	ReasonLookupFailed      = "lookup_failed"
)

// LoginAttempt is never mutated after creation.
type LoginAttempt struct {
	Email       string    `json:"email"`
	PrincipalID *int64    `json:"principalId,omitempty"`
	IP          string    `json:"ip,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
	Success     bool      `json:"success"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Recorder persists login attempts. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, a LoginAttempt) error
}

// NopRecorder discards attempts.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, LoginAttempt) error { return nil }

// MultiRecorder fans an attempt out to every recorder and joins their errors.
type MultiRecorder []Recorder

// Record implements Recorder. Every recorder is attempted even if an earlier one fails.
func (m MultiRecorder) Record(ctx context.Context, a LoginAttempt) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
