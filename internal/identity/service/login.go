package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"trade-identity/internal/audit"
	auditdomain "trade-identity/internal/audit/domain"
	"trade-identity/internal/policy/engine"
	"trade-identity/internal/ratelimit"
	"trade-identity/internal/realm"
	"trade-identity/internal/security"
	"trade-identity/internal/tenancy"
	userdomain "trade-identity/internal/user/domain"
)

// LoginRequest is a password login in one realm. TenantID may be empty on the auto-realm tenant
// login, in which case the user's single active membership is used.
type LoginRequest struct {
	Realm         realm.Realm
	Email         string
	Password      string
	TenantID      string
	RequireTenant bool
	Client        ClientMeta
}

// Login gates, verifies credentials and authorization inside the auth tenant context, and issues a
// session in a new family. Every outcome except a validation error is audited after the
// transaction ends.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	if !req.Realm.Valid() {
		return nil, validationError("realm", "unknown realm")
	}
	email := userdomain.NormalizeEmail(req.Email)
	if email == "" {
		return nil, validationError("email", "email is required")
	}
	if req.Password == "" {
		return nil, validationError("password", "password is required")
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if req.Realm == realm.Tenant && req.RequireTenant && tenantID == "" {
		return nil, validationError("tenantId", "tenantId is required")
	}

	if err := s.admit(ctx, req.Realm, ratelimit.EndpointLogin, email, req.Client, auditdomain.ActionLoginBlocked); err != nil {
		s.Recorder.ObserveLogin(req.Realm.String(), string(reasonOf(err)))
		return nil, err
	}

	now := s.now().UTC()
	var sess *Session
	err := s.Runner.WithContext(ctx, tenancy.Auth(req.Realm), func(ctx context.Context) error {
		var err error
		if req.Realm == realm.Admin {
			sess, err = s.loginAdmin(ctx, email, req.Password, req.Client, now)
		} else {
			sess, err = s.loginTenant(ctx, email, req.Password, tenantID, req.Client, now)
		}
		return err
	})
	if err != nil {
		return nil, s.loginFailed(ctx, req.Realm, email, req.Client, err)
	}

	s.Audit.Emit(ctx, audit.Event{
		Action:   auditdomain.ActionLoginSuccess,
		Realm:    sess.Realm,
		TenantID: sess.TenantID,
		ActorID:  sess.SubjectID,
		IP:       req.Client.IP,
		Metadata: map[string]string{"family_id": sess.FamilyID, "user_agent": req.Client.UserAgent},
	})
	s.Recorder.ObserveLogin(sess.Realm.String(), "success")
	return sess, nil
}

func (s *Service) loginTenant(ctx context.Context, email, password, tenantID string, client ClientMeta, now time.Time) (*Session, error) {
	u, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	var hash string
	if u != nil {
		hash = u.PasswordHash
	}
	// Unknown emails still pay for one bcrypt comparison.
	if !s.Hasher.Verify(hash, []byte(password)) || u == nil || !u.Active() {
		return nil, failure(KindInvalidCredentials, auditdomain.ReasonInvalidCredentials)
	}
	if !u.Verified() {
		return nil, failure(KindUnverified, auditdomain.ReasonUnverified)
	}
	if tenantID == "" {
		ms, err := s.Memberships.ListActiveByUser(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		switch len(ms) {
		case 0:
			return nil, failure(KindNoMembership, auditdomain.ReasonNoMembership)
		case 1:
			tenantID = ms[0].TenantID
		default:
			return nil, validationError("tenantId", "tenantId is required for users with several tenants")
		}
	}
	g, err := s.tenantGrant(ctx, engine.PhaseLogin, u, tenantID)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, g, "", client, now)
}

func (s *Service) loginAdmin(ctx context.Context, email, password string, client ClientMeta, now time.Time) (*Session, error) {
	a, err := s.Admins.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	var hash string
	if a != nil {
		hash = a.PasswordHash
	}
	if !s.Hasher.Verify(hash, []byte(password)) || a == nil || !a.Active() {
		return nil, failure(KindInvalidCredentials, auditdomain.ReasonInvalidCredentials)
	}
	g, err := s.adminGrant(ctx, engine.PhaseLogin, a)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, g, "", client, now)
}

// loginFailed classifies err, audits it, and returns the error for the caller. Store and policy
// failures are logged and surface as KindInternal without detail.
func (s *Service) loginFailed(ctx context.Context, r realm.Realm, email string, client ClientMeta, err error) error {
	e, ok := asError(err)
	if !ok {
		s.Log.WithFields(logrus.Fields{"realm": r.String(), "error": err.Error()}).Error("login: internal error")
		e = failure(KindInternal, auditdomain.ReasonInternal)
	}
	if e.Kind != KindValidation {
		s.Audit.Emit(ctx, audit.Event{
			Action: auditdomain.ActionLoginFailed,
			Realm:  r,
			Reason: e.Reason,
			IP:     client.IP,
			Metadata: map[string]string{
				"email_key":  security.HashKey("email", email),
				"user_agent": client.UserAgent,
			},
		})
	}
	s.Recorder.ObserveLogin(r.String(), outcomeOf(e))
	return e
}

// admit runs the rate limit gate. A gate failure fails closed as KindInternal; a block is audited
// under blockedAction and returned as KindRateLimited.
func (s *Service) admit(ctx context.Context, r realm.Realm, ep ratelimit.Endpoint, email string, client ClientMeta, blockedAction auditdomain.Action) error {
	d, err := s.Gate.CheckAndMaybeBlock(ctx, ratelimit.Request{IP: client.IP, Email: email, Realm: r, Endpoint: ep})
	if err != nil {
		s.Log.WithFields(logrus.Fields{"endpoint": ep, "error": err.Error()}).Error("rate limit: gate unavailable")
		return failure(KindInternal, auditdomain.ReasonInternal)
	}
	if d.Allowed {
		return nil
	}
	reason := rateLimitReason(d.Trigger)
	md := map[string]string{"endpoint": string(ep), "trigger": string(d.Trigger)}
	if email != "" {
		md["email_key"] = security.HashKey("email", email)
	}
	s.Audit.Emit(ctx, audit.Event{Action: blockedAction, Realm: r, Reason: reason, IP: client.IP, Metadata: md})
	s.Recorder.ObserveRateLimited(string(ep), string(d.Trigger))
	return &Error{Kind: KindRateLimited, Reason: reason, RetryAfter: d.RetryAfter}
}

func rateLimitReason(t ratelimit.Trigger) auditdomain.Reason {
	switch t {
	case ratelimit.TriggerIP:
		return auditdomain.ReasonRateLimitedIP
	case ratelimit.TriggerEmail:
		return auditdomain.ReasonRateLimitedEmail
	default:
		return auditdomain.ReasonRateLimitedBoth
	}
}

func reasonOf(err error) auditdomain.Reason {
	if e, ok := asError(err); ok {
		return e.Reason
	}
	return auditdomain.ReasonInternal
}

func outcomeOf(e *Error) string {
	if e.Reason != "" {
		return string(e.Reason)
	}
	return e.Kind.String()
}
