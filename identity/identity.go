// Package identity describes the principals the authentication engine reads from an
// external user-management collaborator.
package identity

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Provider when no principal matches the lookup key.
var ErrNotFound = errors.New("principal not found")

// Principal is the immutable identity carried in token claims.
type Principal struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	RoleID      int64  `json:"roleId"`
	Active      bool   `json:"active"`
}

// Record is a Principal plus the stored password hash used by credential checks.
type Record struct {
	Principal
	PasswordHash string
}

// Provider resolves principals. Implementations must be safe for concurrent use
// and must return ErrNotFound (or an error wrapping it) for unknown keys.
type Provider interface {
	FindByID(ctx context.Context, id int64) (Record, error)
	FindByEmail(ctx context.Context, email string) (Record, error)
}

// PasswordUpdater is optionally implemented by a Provider to persist re-hashed
// passwords after a successful login.
type PasswordUpdater interface {
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}
