package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 8
	algorithmID           = "argon2id"

	// DefaultMaxPasswordBytes bounds the work a single verification can cause.
	DefaultMaxPasswordBytes = 1024
)

var (
	// ErrPasswordLength is returned for secrets outside the accepted byte range.
	ErrPasswordLength = errors.New("password length out of range")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)

var b64 = base64.RawStdEncoding

// Config holds argon2id cost parameters.
type Config struct {
	Memory           uint32 `yaml:"memory" toml:"memory"`
	Time             uint32 `yaml:"time" toml:"time"`
	Parallelism      uint8  `yaml:"parallelism" toml:"parallelism"`
	SaltLength       uint32 `yaml:"salt_length" toml:"salt_length"`
	KeyLength        uint32 `yaml:"key_length" toml:"key_length"`
	MaxPasswordBytes int    `yaml:"max_password_bytes" toml:"max_password_bytes"`
}

// DefaultConfig returns the OWASP-recommended argon2id profile.
func DefaultConfig() Config {
	return Config{
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		SaltLength:       16,
		KeyLength:        32,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

// Argon2 produces and checks argon2id PHC hashes.
type Argon2 struct {
	config Config
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a fresh salted argon2id hash of secret.
func (a *Argon2) Hash(secret string) (string, error) {
	if len(secret) < minPassBytes || len(secret) > a.config.MaxPasswordBytes {
		return "", ErrPasswordLength
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(secret), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		a.config.Memory, a.config.Time, a.config.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches encoded. The comparison is constant time.
func (a *Argon2) Verify(secret string, encoded string) (bool, error) {
	if len(secret) > a.config.MaxPasswordBytes {
		return false, ErrPasswordLength
	}
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(secret), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters than
// the current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	weaker := a.config.Memory > p.memory ||
		a.config.Time > p.time ||
		a.config.Parallelism > p.parallelism ||
		a.config.KeyLength != uint32(len(p.key))
	return weaker, nil
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version %d", ErrMalformedHash, version)
	}

	p := &phc{}
	var par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &par); err != nil {
		return nil, ErrMalformedHash
	}
	if p.memory < minMemoryKB || p.time < minTimeCost || par < uint32(minParallelism) || par > 255 {
		return nil, fmt.Errorf("%w: parameters out of range", ErrMalformedHash)
	}
	p.parallelism = uint8(par)

	var err error
	if p.salt, err = decodeSegment(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.key, err = decodeSegment(parts[5]); err != nil || len(p.key) == 0 {
		return nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return p, nil
}

// decodeSegment accepts padded and unpadded base64, both occur in the wild.
func decodeSegment(s string) ([]byte, error) {
	return b64.DecodeString(strings.TrimRight(s, "="))
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return errors.New("password memory must be >= 8192 KB")
	case cfg.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return errors.New("password key length must be >= 16")
	case cfg.MaxPasswordBytes < minPassBytes:
		return errors.New("password max bytes must be >= 8")
	}
	return nil
}
