package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"time"

	"trade-identity/internal/realm"
)

// NewTestKeyring returns a Keyring with freshly generated, distinct ECDSA P-256 keys per realm.
// For unit tests only. Callers must not use in production.
func NewTestKeyring() (*Keyring, error) {
	tenant, err := NewTestTokenProvider(realm.Tenant)
	if err != nil {
		return nil, err
	}
	admin, err := NewTestTokenProvider(realm.Admin)
	if err != nil {
		return nil, err
	}
	return NewKeyring(tenant, admin)
}

// NewTestTokenProvider returns a TokenProvider for r with a generated ECDSA P-256 key.
// For unit tests only. Callers must not use in production.
func NewTestTokenProvider(r realm.Realm) (*TokenProvider, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(r, key, &key.PublicKey, "test-issuer", 15*time.Minute), nil
}
