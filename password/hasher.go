package password

import "sync"

// Hasher verifies argon2id and legacy bcrypt hashes and produces argon2id hashes.
type Hasher struct {
	argon *Argon2

	dummyOnce sync.Once
	dummy     string
}

// NewHasher builds a Hasher around the given argon2id parameters.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a}, nil
}

// Hash always produces an argon2id hash.
func (h *Hasher) Hash(secret string) (string, error) {
	return h.argon.Hash(secret)
}

// Verify dispatches on the hash prefix.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	if IsBcrypt(encoded) {
		return verifyBcrypt(secret, encoded)
	}
	return h.argon.Verify(secret, encoded)
}

// NeedsUpgrade is true for every bcrypt hash and for argon2id hashes with stale parameters.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	if IsBcrypt(encoded) {
		return true, nil
	}
	return h.argon.NeedsUpgrade(encoded)
}

// Burn spends the same work as a real verification. Callers use it when the
// principal does not exist so response timing does not reveal that fact.
func (h *Hasher) Burn(secret string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = h.argon.Hash("authcore-timing-equalizer")
	})
	if h.dummy == "" {
		return
	}
	_, _ = h.argon.Verify(secret, h.dummy)
}
