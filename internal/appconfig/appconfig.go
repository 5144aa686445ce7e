// Package appconfig loads engine configuration for the authcore binaries from a
// YAML or TOML file plus environment overrides.
package appconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/MrEthical07/authcore"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when -config is not provided.
	DefaultConfigPath = "authcore.yml"

	EnvJWTSecret         = "AUTHCORE_JWT_SECRET"
	EnvJWTPrivateKeyFile = "AUTHCORE_JWT_PRIVATE_KEY_FILE"
	EnvJWTPublicKeyFile  = "AUTHCORE_JWT_PUBLIC_KEY_FILE"
	EnvRedisURL          = "AUTHCORE_REDIS_URL"
	EnvMySQLDSN          = "AUTHCORE_MYSQL_DSN"
)

// File is the on-disk layout: every engine section at the top level plus a
// secrets section that is resolved into key material.
type File struct {
	authcore.Config `yaml:",inline"`
	Secrets         Secrets `yaml:"secrets" toml:"secrets"`
}

// Secrets points at signing key material. Inline values are accepted for
// development; production deployments should use files or the environment.
type Secrets struct {
	JWTSecret         string `yaml:"jwt_secret" toml:"jwt_secret"`
	JWTPrivateKeyFile string `yaml:"jwt_private_key_file" toml:"jwt_private_key_file"`
	JWTPublicKeyFile  string `yaml:"jwt_public_key_file" toml:"jwt_public_key_file"`
}

// Load reads path on top of authcore.DefaultConfig, applies environment
// overrides, resolves key material and validates the result. A missing file at
// DefaultConfigPath is not an error; the defaults plus environment are used.
func Load(path string) (*File, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		p = DefaultConfigPath
	}

	f := &File{Config: authcore.DefaultConfig()}
	raw, err := os.ReadFile(p)
	switch {
	case err == nil:
		if err := f.decode(p, raw); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && strings.TrimSpace(path) == "":
	default:
		return nil, fmt.Errorf("read config %s: %w", p, err)
	}

	f.ApplyEnvOverrides()
	if err := f.resolveKeys(filepath.Dir(p)); err != nil {
		return nil, err
	}
	if err := f.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", p, err)
	}
	return f, nil
}

func (f *File) decode(path string, raw []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(raw), f)
		if err != nil {
			return fmt.Errorf("parse toml %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("parse toml %s: unknown key %s", path, undecoded[0].String())
		}
	case ".yml", ".yaml", "":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse yaml %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// ApplyEnvOverrides replaces secrets and backend addresses with values from
// the environment when they are set.
func (f *File) ApplyEnvOverrides() {
	if v := os.Getenv(EnvJWTSecret); v != "" {
		f.Secrets.JWTSecret = v
	}
	if v := os.Getenv(EnvJWTPrivateKeyFile); v != "" {
		f.Secrets.JWTPrivateKeyFile = v
	}
	if v := os.Getenv(EnvJWTPublicKeyFile); v != "" {
		f.Secrets.JWTPublicKeyFile = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		f.Redis.URL = v
	}
	if v := os.Getenv(EnvMySQLDSN); v != "" {
		f.Database.DSN = v
	}
}

// resolveKeys fills JWT key material. Relative key paths are resolved against
// the config file's directory.
func (f *File) resolveKeys(baseDir string) error {
	switch strings.ToLower(strings.TrimSpace(f.JWT.SigningMethod)) {
	case "ed25519":
		if f.Secrets.JWTPrivateKeyFile == "" || f.Secrets.JWTPublicKeyFile == "" {
			return errors.New("ed25519 signing requires jwt_private_key_file and jwt_public_key_file")
		}
		priv, err := readKey(baseDir, f.Secrets.JWTPrivateKeyFile)
		if err != nil {
			return err
		}
		pub, err := readKey(baseDir, f.Secrets.JWTPublicKeyFile)
		if err != nil {
			return err
		}
		f.JWT.PrivateKey, f.JWT.PublicKey = priv, pub
	default:
		switch {
		case f.Secrets.JWTSecret != "":
			f.JWT.PrivateKey = []byte(f.Secrets.JWTSecret)
		case f.Secrets.JWTPrivateKeyFile != "":
			key, err := readKey(baseDir, f.Secrets.JWTPrivateKeyFile)
			if err != nil {
				return err
			}
			f.JWT.PrivateKey = bytes.TrimSpace(key)
		default:
			return fmt.Errorf("hs256 signing requires %s or secrets.jwt_secret", EnvJWTSecret)
		}
	}
	return nil
}

func readKey(baseDir, path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	return key, nil
}
