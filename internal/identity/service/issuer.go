package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"trade-identity/internal/realm"
	"trade-identity/internal/refreshtoken/domain"
	"trade-identity/internal/security"
)

// Grant is the authorization a session is issued for, resolved from the data store.
type Grant struct {
	Realm     realm.Realm
	SubjectID string
	TenantID  string // empty for admin sessions
	Role      string
}

// Session is a freshly issued token pair. RefreshToken is the plaintext cookie value; it is not
// stored anywhere and must not be logged.
type Session struct {
	Grant
	FamilyID         string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// issue mints an access token and a refresh token for g, persisting the refresh record in the
// active tenant context. An empty familyID starts a new family (login); rotation passes the
// family of the claimed record.
func (s *Service) issue(ctx context.Context, g Grant, familyID string, meta ClientMeta, now time.Time) (*Session, error) {
	provider, err := s.Keys.For(g.Realm)
	if err != nil {
		return nil, err
	}
	if familyID == "" {
		familyID = uuid.NewString()
	}
	plaintext, hash, err := security.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	rec := &domain.Record{
		ID:        uuid.NewString(),
		TenantID:  g.TenantID,
		TokenHash: hash,
		FamilyID:  familyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.opts.RefreshTTL),
		ClientIP:  meta.IP,
		UserAgent: meta.UserAgent,
	}
	if g.Realm == realm.Admin {
		rec.AdminID = g.SubjectID
	} else {
		rec.UserID = g.SubjectID
	}
	if err := s.RefreshTokens.Create(ctx, rec); err != nil {
		return nil, err
	}
	access, _, accessExp, err := provider.IssueAccess(g.SubjectID, g.TenantID, g.Role, familyID)
	if err != nil {
		return nil, err
	}
	return &Session{
		Grant:            g,
		FamilyID:         familyID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     plaintext,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}
