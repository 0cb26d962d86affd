package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// RefreshTokenBytes is the entropy of an opaque refresh token (256 bits).
const RefreshTokenBytes = 32

// ErrMalformedToken is returned by ValidateOpaqueToken for values that cannot be a minted token.
var ErrMalformedToken = errors.New("malformed token")

// RandomToken returns n random bytes encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewRefreshToken mints a plaintext refresh token and its SHA-256 digest. Only the digest is
// persisted; the plaintext goes to the client once.
func NewRefreshToken() (plaintext, hash string, err error) {
	plaintext, err = RandomToken(RefreshTokenBytes)
	if err != nil {
		return "", "", err
	}
	return plaintext, HashRefreshToken(plaintext), nil
}

// ValidateOpaqueToken rejects values that are not unpadded base64url of RefreshTokenBytes bytes,
// so garbage cookies never reach the database.
func ValidateOpaqueToken(token string) error {
	if len(token) != base64.RawURLEncoding.EncodedLen(RefreshTokenBytes) {
		return ErrMalformedToken
	}
	if _, err := base64.RawURLEncoding.DecodeString(token); err != nil {
		return ErrMalformedToken
	}
	return nil
}

// HashRefreshToken returns a SHA-256 hash of the refresh token string, hex-encoded.
// Used for storing and comparing refresh tokens without storing the raw token.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RefreshTokenHashEqual performs constant-time comparison of the provided token's hash
// with the stored hash. Returns true only if they match.
func RefreshTokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashRefreshToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// HashKey digests a rate-limit or lookup key (e.g. "ip:203.0.113.7") so raw IPs and emails are
// never stored in the attempt log.
func HashKey(kind, value string) string {
	h := sha256.Sum256([]byte(kind + ":" + value))
	return hex.EncodeToString(h[:])
}
