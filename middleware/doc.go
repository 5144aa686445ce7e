// Package middleware adapts an authcore.Engine to net/http.
//
// # Handlers
//
//   - [Guard] validates the bearer access token and its session on every request.
//   - [RequirePendingTwoFactor] accepts only a bearer temporary token, for the
//     two-factor completion endpoint.
//   - [ClientContext] copies client IP and User-Agent into the request context so
//     sessions and login attempts record them.
//
// This package translates HTTP semantics into Engine calls. It never parses
// tokens or touches Redis itself.
package middleware
