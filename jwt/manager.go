package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/identity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm used for every token kind.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared process-wide secret.
	MethodHS256 SigningMethod = "hs256"
)

// Kind distinguishes the three token shapes minted by Manager.
type Kind string

const (
	// KindAccess is a short-lived, fully authenticated bearer token.
	KindAccess Kind = "access"
	// KindRefresh is only accepted for minting new access tokens.
	KindRefresh Kind = "refresh"
	// KindTwoFactorPending is the temporary token issued between password and 2FA checks.
	KindTwoFactorPending Kind = "2fa_pending"
)

var (
	// ErrTokenInvalid is returned for malformed, tampered or wrongly scoped tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned when the signature is valid but exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTemporaryTokenMisuse is returned when a require2FA token is presented as an access token.
	ErrTemporaryTokenMisuse = errors.New("temporary token presented as access token")
)

// Config defines the signing keys and lifetimes of issued tokens.
//
// Config is loaded once at process start and never mutated afterwards.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	TemporaryTTL  time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// Clock overrides time.Now for issuance and verification. Nil means time.Now.
	Clock func() time.Time
}

// Manager issues and verifies access, refresh and temporary tokens.
//
// Manager is stateless apart from its immutable configuration and is safe for concurrent use.
type Manager struct {
	config Config
}

// Claims is the claim set shared by all token kinds.
type Claims struct {
	Email      string `json:"email,omitempty"`
	RoleID     int64  `json:"rid,omitempty"`
	Kind       Kind   `json:"knd"`
	Require2FA bool   `json:"require2FA,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalID returns the numeric subject of the token.
func (c *Claims) PrincipalID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrTokenInvalid
	}
	return id, nil
}

// NewManager validates cfg and returns a Manager.
//
// NewManager returns an error when a TTL is non-positive, the leeway is out of range,
// or the key material does not match the selected signing method.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.TemporaryTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.TemporaryTTL > cfg.RefreshTTL {
		return nil, errors.New("temporary TTL must not exceed refresh TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Manager{config: cfg}, nil
}

// IssueAccess mints a KindAccess token carrying subject, email and role id.
func (m *Manager) IssueAccess(p identity.Principal) (string, time.Time, error) {
	return m.issue(p, KindAccess, m.config.AccessTTL)
}

// IssueRefresh mints a KindRefresh token with the same claim shape as an access token.
func (m *Manager) IssueRefresh(p identity.Principal) (string, time.Time, error) {
	return m.issue(p, KindRefresh, m.config.RefreshTTL)
}

// IssueTemporary mints a pending-2FA token. It carries require2FA=true and no role id.
func (m *Manager) IssueTemporary(p identity.Principal) (string, time.Time, error) {
	return m.issue(p, KindTwoFactorPending, m.config.TemporaryTTL)
}

func (m *Manager) issue(p identity.Principal, kind Kind, ttl time.Duration) (string, time.Time, error) {
	if p.ID <= 0 {
		return "", time.Time{}, errors.New("principal id required")
	}

	now := m.config.Clock()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Email: p.Email,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}
	if kind == KindTwoFactorPending {
		claims.Require2FA = true
	} else {
		claims.RoleID = p.RoleID
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.getMethod(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signKey, err := m.getSignKey()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies a token expected to be a full access token.
//
// Tokens that carry the require2FA marker fail with ErrTemporaryTokenMisuse regardless
// of their kind claim; refresh tokens fail with ErrTokenInvalid.
func (m *Manager) ParseAccess(tokenStr string) (*Claims, error) {
	claims, err := m.Parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Require2FA || claims.Kind == KindTwoFactorPending {
		return nil, ErrTemporaryTokenMisuse
	}
	if claims.Kind != KindAccess {
		return nil, fmt.Errorf("%w: unexpected kind %q", ErrTokenInvalid, claims.Kind)
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token.
func (m *Manager) ParseRefresh(tokenStr string) (*Claims, error) {
	claims, err := m.Parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Require2FA || claims.Kind != KindRefresh {
		return nil, fmt.Errorf("%w: unexpected kind %q", ErrTokenInvalid, claims.Kind)
	}
	return claims, nil
}

// ParseTemporary verifies a pending-2FA token. The require2FA marker is mandatory.
func (m *Manager) ParseTemporary(tokenStr string) (*Claims, error) {
	claims, err := m.Parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if !claims.Require2FA || claims.Kind != KindTwoFactorPending {
		return nil, fmt.Errorf("%w: require2FA marker missing", ErrTokenInvalid)
	}
	return claims, nil
}

// Parse verifies signature, expiry, issuer and audience of any token kind.
//
// Expired tokens wrap ErrTokenExpired; every other failure wraps ErrTokenInvalid.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.getMethod().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Clock),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if m.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != m.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return m.getVerifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if _, err := claims.PrincipalID(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *Manager) getMethod() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) getSignKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) getVerifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
