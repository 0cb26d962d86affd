package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int
	// dummy is a hash of a random value at Cost, compared against when no stored hash exists
	// so unknown-account logins spend the same time as wrong-password logins.
	dummy []byte
}

// NewHasher returns a Hasher with the given bcrypt cost (4–31). Cost 12 is a
// reasonable default for interactive login.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	h := &Hasher{Cost: cost}
	if seed, err := RandomToken(24); err == nil {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte(seed), cost)
	}
	return h
}

// Hash produces a bcrypt hash of password. Returns the hash as a string suitable for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether password matches hash using bcrypt's constant-time comparison.
// An empty hash still costs one bcrypt comparison against the dummy hash and returns false.
func (h *Hasher) Verify(hash string, password []byte) bool {
	if hash == "" {
		if len(h.dummy) > 0 {
			_ = bcrypt.CompareHashAndPassword(h.dummy, password)
		}
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), password) == nil
}
