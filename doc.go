// Package authcore is an authentication and session lifecycle engine.
//
// An [Engine] verifies credentials, runs the optional TOTP second factor,
// issues access, refresh and temporary tokens, and tracks every login as a
// server-side session that can be validated, refreshed, listed and revoked.
//
// # Login flow
//
//	res, err := engine.Login(ctx, email, password)
//	if res.RequiresTwoFactor {
//		res, err = engine.CompleteTwoFactor(ctx, res.TempToken, code)
//	}
//
// A temporary token is only accepted by [Engine.CompleteTwoFactor]. Presenting
// it anywhere an access token is expected fails with [ErrTemporaryTokenMisuse].
//
// # Sessions
//
// A principal holds at most Session.MaxConcurrentSessions active sessions
// (default 5). Opening one more revokes the least recently active session.
// Expiry is applied lazily on validation and in bulk by the sweeper.
//
// # Construction
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithIdentityProvider(users).
//		WithLogger(logger).
//		Build()
//
// WithDB moves sessions, two-factor records and login attempts to MySQL via GORM.
// Redis remains in use for rate limiting and temporary-token replay protection.
package authcore
