// Package totp implements the two-factor engine: RFC 6238 time-based codes via
// github.com/pquerna/otp plus single-use backup codes.
//
// The engine knows nothing about HTTP or sessions. Persistence goes through
// [Store]; [RedisStore] and [GormStore] make every read-modify-write atomic so
// concurrent submissions of one backup code yield exactly one success.
package totp
