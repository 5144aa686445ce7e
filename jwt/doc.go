// Package jwt issues and verifies the three token kinds of a login: access,
// refresh and the short-lived temporary token that stands between a correct
// password and a completed second factor.
package jwt
