package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// IsBcrypt reports whether encoded looks like a bcrypt hash.
func IsBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// verifyBcrypt checks a legacy bcrypt hash. bcrypt compares in constant time.
func verifyBcrypt(secret, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrMalformedHash
	}
}
