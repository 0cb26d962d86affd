package service

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	"trade-identity/internal/audit"
	auditdomain "trade-identity/internal/audit/domain"
	"trade-identity/internal/policy/engine"
	"trade-identity/internal/realm"
	"trade-identity/internal/refreshtoken/domain"
	"trade-identity/internal/security"
	"trade-identity/internal/tenancy"
)

// RefreshOutcome is the terminal result of one rotation attempt. Only OutcomeRotated issues a session.
type RefreshOutcome int

const (
	OutcomeRotated RefreshOutcome = iota + 1
	// OutcomeInvalidToken covers unknown tokens and principals that lost their authorization.
	OutcomeInvalidToken
	OutcomeRevoked
	OutcomeExpired
	// OutcomeRealmMismatch revokes the family.
	OutcomeRealmMismatch
	// OutcomeReplay is a reuse of a rotated token or a lost claim race. It revokes the family and
	// clears both realm cookies.
	OutcomeReplay
	// OutcomeFailed is an I/O failure or timeout. It is treated as a failed claim.
	OutcomeFailed
)

func (o RefreshOutcome) String() string {
	switch o {
	case OutcomeRotated:
		return "rotated"
	case OutcomeInvalidToken:
		return "invalid_token"
	case OutcomeRevoked:
		return "revoked"
	case OutcomeExpired:
		return "expired"
	case OutcomeRealmMismatch:
		return "realm_mismatch"
	case OutcomeReplay:
		return "replay"
	default:
		return "failed"
	}
}

// Reason returns the audit reason code recorded for the outcome.
func (o RefreshOutcome) Reason() auditdomain.Reason {
	switch o {
	case OutcomeRotated:
		return auditdomain.ReasonNone
	case OutcomeInvalidToken:
		return auditdomain.ReasonInvalidToken
	case OutcomeRevoked:
		return auditdomain.ReasonRevoked
	case OutcomeExpired:
		return auditdomain.ReasonExpired
	case OutcomeRealmMismatch:
		return auditdomain.ReasonRealmMismatch
	case OutcomeReplay:
		return auditdomain.ReasonRotatedReplay
	default:
		return auditdomain.ReasonInternal
	}
}

// Kind returns the error kind a failed outcome is reported as.
func (o RefreshOutcome) Kind() ErrorKind {
	switch o {
	case OutcomeRevoked:
		return KindRevoked
	case OutcomeExpired:
		return KindExpired
	case OutcomeRealmMismatch:
		return KindRealmMismatch
	case OutcomeReplay:
		return KindReplayDetected
	case OutcomeFailed:
		return KindInternal
	default:
		return KindInvalidToken
	}
}

// RefreshRequest carries the plaintext cookie value and the realm of the cookie it came from.
type RefreshRequest struct {
	Realm  realm.Realm
	Token  string
	Client ClientMeta
}

// RefreshResult is the outcome of Refresh. Session is set only for OutcomeRotated.
// ClearAllCookies asks the caller to clear both realm cookies, not just the presented one.
type RefreshResult struct {
	Outcome         RefreshOutcome
	Session         *Session
	ClearAllCookies bool
}

// rotation is what the unit of work decided; subject fields feed the audit record.
type rotation struct {
	outcome RefreshOutcome
	session *Session
	record  *domain.Record
	revoked int64
}

// Refresh rotates the presented refresh token. Terminal outcomes are returned as variants; the
// caller responds 401 for everything except OutcomeRotated. Family revocations commit before the
// outcome is returned, and the outcome is audited after commit. A request with no realm touches no
// store and is audited as an invalid token under realm "none".
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) RefreshResult {
	rot := rotation{outcome: OutcomeInvalidToken}
	if req.Realm.Valid() && security.ValidateOpaqueToken(req.Token) == nil {
		var err error
		rot, err = s.rotate(ctx, req)
		if err != nil {
			s.Log.WithFields(logrus.Fields{"realm": req.Realm.String(), "error": err.Error()}).Error("refresh: rotation failed")
			rot = rotation{outcome: OutcomeFailed, record: rot.record}
		}
	}

	ev := audit.Event{
		Action: auditdomain.ActionRefreshFailed,
		Realm:  req.Realm,
		Reason: rot.outcome.Reason(),
		IP:     req.Client.IP,
		Metadata: map[string]string{
			"user_agent": req.Client.UserAgent,
		},
	}
	if rec := rot.record; rec != nil {
		ev.ActorID = rec.SubjectID()
		ev.TenantID = rec.TenantID
		ev.Metadata["family_id"] = rec.FamilyID
	}
	if rot.revoked > 0 {
		ev.Metadata["family_revoked"] = "true"
		s.Recorder.ObserveFamilyRevoked(string(rot.outcome.Reason()))
		s.Log.WithFields(logrus.Fields{
			"realm":     req.Realm.String(),
			"reason":    rot.outcome.Reason(),
			"family_id": ev.Metadata["family_id"],
		}).Warn("refresh: family revoked")
	}
	if rot.outcome == OutcomeRotated {
		ev.Action = auditdomain.ActionRefreshSuccess
		ev.TenantID = rot.session.TenantID
	}
	s.Audit.Emit(ctx, ev)

	outcome := "success"
	if rot.outcome != OutcomeRotated {
		outcome = string(rot.outcome.Reason())
	}
	realmLabel := "none"
	if req.Realm.Valid() {
		realmLabel = req.Realm.String()
	}
	s.Recorder.ObserveRefresh(realmLabel, outcome)

	return RefreshResult{
		Outcome:         rot.outcome,
		Session:         rot.session,
		ClearAllCookies: rot.outcome == OutcomeReplay,
	}
}

// rotate runs steps one through eight in a single auth-scoped unit of work. A returned error rolls
// the unit back, including a claim, and is reported as OutcomeFailed.
func (s *Service) rotate(ctx context.Context, req RefreshRequest) (rotation, error) {
	var rot rotation
	now := s.now().UTC()
	err := s.Runner.WithContext(ctx, tenancy.Auth(req.Realm), func(ctx context.Context) error {
		rec, err := s.RefreshTokens.GetByHash(ctx, security.HashRefreshToken(req.Token))
		if err != nil {
			return err
		}
		if rec == nil {
			rot.outcome = OutcomeInvalidToken
			return nil
		}
		rot.record = rec

		switch {
		case rec.RevokedAt != nil:
			rot.outcome = OutcomeRevoked
			return nil
		case !now.Before(rec.ExpiresAt):
			rot.outcome = OutcomeExpired
			return nil
		case rec.Realm() != req.Realm:
			rot.outcome = OutcomeRealmMismatch
			rot.revoked, err = s.RefreshTokens.RevokeFamily(ctx, rec.FamilyID, now)
			return err
		case rec.RotatedAt != nil:
			rot.outcome = OutcomeReplay
			rot.revoked, err = s.RefreshTokens.RevokeFamily(ctx, rec.FamilyID, now)
			return err
		}

		claimed, err := s.RefreshTokens.Claim(ctx, rec.ID, now)
		if err != nil {
			return err
		}
		if !claimed {
			// Another request won the claim for this token. Treated as a replay.
			rot.outcome = OutcomeReplay
			rot.revoked, err = s.RefreshTokens.RevokeFamily(ctx, rec.FamilyID, now)
			return err
		}

		g, err := s.regrant(ctx, rec)
		if err != nil {
			if _, denied := asError(err); denied {
				// The claim stands: the token is spent even though no session is issued.
				rot.outcome = OutcomeInvalidToken
				return nil
			}
			return err
		}
		rot.session, err = s.issue(ctx, g, rec.FamilyID, req.Client, now)
		if err != nil {
			return err
		}
		rot.outcome = OutcomeRotated
		return nil
	})
	if err != nil {
		return rotation{record: rot.record}, err
	}
	return rot, nil
}

// regrant resolves the record's principal and authorization fresh from the store. A principal that
// no longer exists or is no longer authorized yields a *Error.
func (s *Service) regrant(ctx context.Context, rec *domain.Record) (Grant, error) {
	if rec.Realm() == realm.Admin {
		a, err := s.Admins.GetByID(ctx, rec.AdminID)
		if err != nil {
			return Grant{}, err
		}
		if a == nil {
			return Grant{}, failure(KindInvalidToken, auditdomain.ReasonInvalidToken)
		}
		return s.adminGrant(ctx, engine.PhaseRefresh, a)
	}
	u, err := s.Users.GetByID(ctx, rec.UserID)
	if err != nil {
		return Grant{}, err
	}
	if u == nil || rec.TenantID == "" {
		return Grant{}, failure(KindInvalidToken, auditdomain.ReasonInvalidToken)
	}
	return s.tenantGrant(ctx, engine.PhaseRefresh, u, rec.TenantID)
}

// RevokePresented handles a request that carried both realm cookies: both referenced tokens are
// revoked and the signal is audited. No realm is chosen.
func (s *Service) RevokePresented(ctx context.Context, tokens map[realm.Realm]string, client ClientMeta) {
	now := s.now().UTC()
	revoked := 0
	err := s.Runner.WithContext(ctx, tenancy.Auth(0), func(ctx context.Context) error {
		for _, r := range realm.All {
			tok := tokens[r]
			if security.ValidateOpaqueToken(tok) != nil {
				continue
			}
			rec, err := s.RefreshTokens.GetByHash(ctx, security.HashRefreshToken(tok))
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			ok, err := s.RefreshTokens.Revoke(ctx, rec.ID, now)
			if err != nil {
				return err
			}
			if ok {
				revoked++
			}
		}
		return nil
	})
	if err != nil {
		s.Log.WithField("error", err.Error()).Error("refresh: revoking presented tokens failed")
	}
	s.Audit.Emit(ctx, audit.Event{
		Action:   auditdomain.ActionBothCookies,
		Reason:   auditdomain.ReasonBothCookies,
		IP:       client.IP,
		Metadata: map[string]string{"revoked": strconv.Itoa(revoked), "user_agent": client.UserAgent},
	})
}
