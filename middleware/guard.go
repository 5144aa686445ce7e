package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

type authResultContextKey struct{}
type pendingTokenContextKey struct{}

// AuthResultFromContext returns the result stored by Guard.
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok
}

// PendingTokenFromContext returns the temporary token stored by RequirePendingTwoFactor.
func PendingTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(pendingTokenContextKey{}).(string)
	return token, ok && token != ""
}

// Guard rejects requests without a valid access token and an active session.
// A temporary token gets 403 so clients can tell it apart from a bad token.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, authcore.ErrTemporaryTokenMisuse):
					http.Error(w, "two-factor verification required", http.StatusForbidden)
				case errors.Is(err, authcore.ErrRedisUnavailable), errors.Is(err, authcore.ErrDatabaseUnavailable):
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				default:
					http.Error(w, "unauthorized", http.StatusUnauthorized)
				}
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePendingTwoFactor passes the bearer token on to the handler, which
// calls Engine.CompleteTwoFactor with it. Token checks happen there.
func RequirePendingTwoFactor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), pendingTokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
