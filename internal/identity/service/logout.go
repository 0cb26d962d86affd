package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"trade-identity/internal/audit"
	auditdomain "trade-identity/internal/audit/domain"
	"trade-identity/internal/realm"
	"trade-identity/internal/refreshtoken/domain"
	"trade-identity/internal/security"
	"trade-identity/internal/tenancy"
)

// LogoutRequest carries every realm cookie the request presented, keyed by realm.
type LogoutRequest struct {
	Tokens map[realm.Realm]string
	Client ClientMeta
}

// Logout revokes each presented token that is still live. It never fails: store and audit errors
// are logged and the caller always responds with success and clears both realm cookies.
// A token that is already revoked is left untouched, so repeated logouts write nothing.
func (s *Service) Logout(ctx context.Context, req LogoutRequest) {
	if len(req.Tokens) == 0 {
		s.logoutAudit(ctx, 0, nil, auditdomain.ActionLogoutNoop, auditdomain.ReasonNoSession, req.Client)
		return
	}
	for _, r := range realm.All {
		tok, ok := req.Tokens[r]
		if !ok {
			continue
		}
		s.logoutOne(ctx, r, tok, req.Client)
	}
}

func (s *Service) logoutOne(ctx context.Context, r realm.Realm, token string, client ClientMeta) {
	if security.ValidateOpaqueToken(token) != nil {
		s.logoutAudit(ctx, r, nil, auditdomain.ActionLogoutNoop, auditdomain.ReasonInvalidToken, client)
		return
	}
	var (
		rec     *domain.Record
		revoked bool
	)
	now := s.now().UTC()
	err := s.Runner.WithContext(ctx, tenancy.Auth(r), func(ctx context.Context) error {
		var err error
		rec, err = s.RefreshTokens.GetByHash(ctx, security.HashRefreshToken(token))
		if err != nil || rec == nil {
			return err
		}
		revoked, err = s.RefreshTokens.Revoke(ctx, rec.ID, now)
		return err
	})
	switch {
	case err != nil:
		s.Log.WithFields(logrus.Fields{"realm": r.String(), "error": err.Error()}).Warn("logout: revoke failed")
		s.logoutAudit(ctx, r, rec, auditdomain.ActionLogoutNoop, auditdomain.ReasonInternal, client)
	case rec == nil:
		s.logoutAudit(ctx, r, nil, auditdomain.ActionLogoutNoop, auditdomain.ReasonInvalidToken, client)
	case revoked:
		s.logoutAudit(ctx, r, rec, auditdomain.ActionLogoutSuccess, auditdomain.ReasonNone, client)
	default:
		s.logoutAudit(ctx, r, rec, auditdomain.ActionLogoutNoop, auditdomain.ReasonRevoked, client)
	}
}

func (s *Service) logoutAudit(ctx context.Context, r realm.Realm, rec *domain.Record, action auditdomain.Action, reason auditdomain.Reason, client ClientMeta) {
	ev := audit.Event{
		Action:   action,
		Realm:    r,
		Reason:   reason,
		IP:       client.IP,
		Metadata: map[string]string{"user_agent": client.UserAgent},
	}
	if rec != nil {
		ev.ActorID = rec.SubjectID()
		ev.TenantID = rec.TenantID
		ev.Metadata["family_id"] = rec.FamilyID
	}
	s.Audit.Emit(ctx, ev)
	if action == auditdomain.ActionLogoutSuccess {
		s.Recorder.ObserveLogout("success")
	} else {
		s.Recorder.ObserveLogout("noop")
	}
}
