package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"trade-identity/internal/realm"
)

var (
	// ErrInvalidKey is returned for unreadable PEM, an unknown block type, or a key that is neither
	// RSA nor ECDSA P-256.
	ErrInvalidKey = errors.New("invalid key")
	// ErrKeyMismatch is returned when a realm's private key does not belong to its public key.
	ErrKeyMismatch = errors.New("private key does not match public key")
)

// readPEM returns s itself when it is inline PEM and otherwise reads s as a file path.
// Inline PEM may carry literal "\n" sequences, as it does when passed through an env var.
func readPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

func decodeBlock(s string) (*pem.Block, error) {
	raw, err := readPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}

// ParsePrivateKey parses realm r's signing key from inline PEM or a file path. Errors name the realm.
func ParsePrivateKey(r realm.Realm, s string) (crypto.Signer, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, fmt.Errorf("%s private key: %w", r, err)
	}
	var key any
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		err = ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("%s private key (%s): %w", r, block.Type, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok || KeyAlg(signer.Public()) == "" {
		return nil, fmt.Errorf("%s private key: %w", r, ErrInvalidKey)
	}
	return signer, nil
}

// ParsePublicKey parses realm r's verification key from inline PEM or a file path. Errors name the realm.
func ParsePublicKey(r realm.Realm, s string) (crypto.PublicKey, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, fmt.Errorf("%s public key: %w", r, err)
	}
	var pub crypto.PublicKey
	switch block.Type {
	case "RSA PUBLIC KEY":
		pub, err = x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		pub, err = x509.ParsePKIXPublicKey(block.Bytes)
	default:
		err = ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("%s public key (%s): %w", r, block.Type, err)
	}
	if KeyAlg(pub) == "" {
		return nil, fmt.Errorf("%s public key: %w", r, ErrInvalidKey)
	}
	return pub, nil
}

// KeyAlg returns the JWT algorithm for pub: RS256 for RSA, ES256 for ECDSA on P-256, empty otherwise.
func KeyAlg(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		if k.Curve == elliptic.P256() {
			return "ES256"
		}
	}
	return ""
}

// LoadTokenProvider parses a realm's key pair and returns its TokenProvider. The private key must
// be the one the public key verifies.
func LoadTokenProvider(r realm.Realm, privatePEM, publicPEM, issuer string, accessTTL time.Duration) (*TokenProvider, error) {
	priv, err := ParsePrivateKey(r, privatePEM)
	if err != nil {
		return nil, err
	}
	pub, err := ParsePublicKey(r, publicPEM)
	if err != nil {
		return nil, err
	}
	if k, ok := priv.Public().(equaler); !ok || !k.Equal(pub) {
		return nil, fmt.Errorf("%s key pair: %w", r, ErrKeyMismatch)
	}
	return NewTokenProvider(r, priv, pub, issuer, accessTTL), nil
}
