// Package session owns the server-side session lifecycle: the [Session] model,
// the [Store] persistence contract with Redis and MySQL implementations, and the
// [Manager] that enforces the concurrent-session cap, lazy expiry, refresh,
// revocation and suspicious-activity heuristics.
//
// # State machine
//
// A session starts active and ends in exactly one of expired, revoked or
// inactive. Terminal states never transition back. Every transition out of
// active is a compare-and-swap in the store, so concurrent validators, sweepers
// and revokers converge on a single terminal state.
//
// # What this package must NOT do
//
//   - Store plaintext tokens. Only [HashToken] digests reach a [Store].
//   - Parse JWTs or look up principals.
package session
