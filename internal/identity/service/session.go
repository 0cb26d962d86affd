package service

import (
	auditdomain "trade-identity/internal/audit/domain"
	"trade-identity/internal/realm"
	"trade-identity/internal/security"
)

// Introspect validates an access token against realm r's key only. A token signed for the other
// realm fails verification.
func (s *Service) Introspect(r realm.Realm, accessToken string) (*security.AccessClaims, error) {
	provider, err := s.Keys.For(r)
	if err != nil {
		return nil, failure(KindInvalidToken, auditdomain.ReasonInvalidToken)
	}
	claims, err := provider.ValidateAccess(accessToken)
	if err != nil {
		return nil, failure(KindInvalidToken, auditdomain.ReasonInvalidToken)
	}
	return claims, nil
}
