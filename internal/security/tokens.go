package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trade-identity/internal/realm"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or signed for another realm.
	ErrInvalidToken = errors.New("invalid token")
	// ErrSharedRealmKey is returned when tenant and admin providers would verify with the same key.
	ErrSharedRealmKey = errors.New("tenant and admin realms must use distinct signing keys")
)

// AccessClaims holds JWT claims for the short-lived access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Realm    string `json:"realm"`
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role"`
	FamilyID string `json:"fid"`
}

// TokenProvider issues and validates access JWTs for exactly one realm using RS256 or ES256.
// Tokens carry the realm's audience and realm claim, and are verified only with the realm's own key.
type TokenProvider struct {
	realm      realm.Realm
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	accessTTL  time.Duration
}

// NewTokenProvider returns a TokenProvider for realm r that signs with privateKey (RSA or ECDSA P-256).
func NewTokenProvider(r realm.Realm, privateKey crypto.Signer, publicKey crypto.PublicKey, issuer string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		realm:      r,
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		accessTTL:  accessTTL,
	}
}

// Realm returns the realm this provider signs for.
func (p *TokenProvider) Realm() realm.Realm { return p.realm }

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// IssueAccess issues a short-lived access JWT for subject. tenantID is empty for the admin realm.
// Returns the token string, its jti, and expiration time.
func (p *TokenProvider) IssueAccess(subject, tenantID, role, familyID string) (token string, jti string, expiresAt time.Time, err error) {
	jti, err = generateJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.realm.Audience()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Realm:    p.realm.String(),
		TenantID: tenantID,
		Role:     role,
		FamilyID: familyID,
	}
	token, err = p.sign(claims)
	return token, jti, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud, realm).
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	alg := KeyAlg(p.publicKey)
	if alg == "" {
		return nil, ErrInvalidToken
	}
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.publicKey, nil
	},
		jwt.WithValidMethods([]string{alg}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.realm.Audience()),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Realm != p.realm.String() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Keyring holds one TokenProvider per realm.
type Keyring struct {
	providers map[realm.Realm]*TokenProvider
}

type equaler interface {
	Equal(crypto.PublicKey) bool
}

// NewKeyring pairs the tenant and admin providers. It fails if a provider is registered under
// the wrong realm or if both realms would verify with the same public key.
func NewKeyring(tenant, admin *TokenProvider) (*Keyring, error) {
	if tenant == nil || admin == nil {
		return nil, errors.New("keyring: both realm providers are required")
	}
	if tenant.realm != realm.Tenant || admin.realm != realm.Admin {
		return nil, errors.New("keyring: provider realm mismatch")
	}
	if eq, ok := tenant.publicKey.(equaler); ok && eq.Equal(admin.publicKey) {
		return nil, ErrSharedRealmKey
	}
	return &Keyring{providers: map[realm.Realm]*TokenProvider{
		realm.Tenant: tenant,
		realm.Admin:  admin,
	}}, nil
}

// For returns the provider for r.
func (k *Keyring) For(r realm.Realm) (*TokenProvider, error) {
	p, ok := k.providers[r]
	if !ok {
		return nil, fmt.Errorf("keyring: no provider for realm %s", r)
	}
	return p, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
