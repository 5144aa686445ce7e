package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/session"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type deviceFingerprintContextKey struct{}
type locationContextKey struct{}
type sessionTypeContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is stored on new
// sessions and login attempts and drives per-IP rate limiting.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithDeviceFingerprint attaches a client-computed device fingerprint. Distinct
// fingerprints feed suspicious-activity detection.
func WithDeviceFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, deviceFingerprintContextKey{}, fingerprint)
}

// WithLocation attaches a coarse geo location (for example a city) resolved by the caller.
func WithLocation(ctx context.Context, location string) context.Context {
	return context.WithValue(ctx, locationContextKey{}, location)
}

// WithSessionType marks the client kind of a session created under ctx.
func WithSessionType(ctx context.Context, typ session.Type) context.Context {
	return context.WithValue(ctx, sessionTypeContextKey{}, typ)
}

func stringFromContext(ctx context.Context, key interface{}) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func clientIPFromContext(ctx context.Context) string {
	return stringFromContext(ctx, clientIPContextKey{})
}

func userAgentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userAgentContextKey{})
}

func sessionMetaFromContext(ctx context.Context, twoFactorVerified bool) session.Meta {
	meta := session.Meta{
		Type:              session.TypeWeb,
		IP:                clientIPFromContext(ctx),
		UserAgent:         userAgentFromContext(ctx),
		DeviceFingerprint: stringFromContext(ctx, deviceFingerprintContextKey{}),
		Location:          stringFromContext(ctx, locationContextKey{}),
		TwoFactorVerified: twoFactorVerified,
	}
	if ctx != nil {
		if typ, ok := ctx.Value(sessionTypeContextKey{}).(session.Type); ok && typ != "" {
			meta.Type = typ
		}
	}
	return meta
}
