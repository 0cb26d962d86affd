package service

import (
	"context"

	admindomain "trade-identity/internal/admin/domain"
	auditdomain "trade-identity/internal/audit/domain"
	"trade-identity/internal/policy/engine"
	"trade-identity/internal/realm"
	userdomain "trade-identity/internal/user/domain"
)

// tenantGrant reads the user's membership in tenantID and the tenant fresh from the store and asks
// the session grant policy. A denial is returned as *Error; store and policy failures as plain errors.
func (s *Service) tenantGrant(ctx context.Context, phase engine.Phase, u *userdomain.User, tenantID string) (Grant, error) {
	in := engine.SessionInput{
		Realm: realm.Tenant.String(),
		Phase: phase,
		Principal: engine.Principal{
			ID:            u.ID,
			Status:        string(u.Status),
			EmailVerified: u.Verified(),
		},
	}
	m, err := s.Memberships.GetByUserAndTenant(ctx, u.ID, tenantID)
	if err != nil {
		return Grant{}, err
	}
	var role string
	if m != nil {
		role = string(m.Role)
		in.Membership = &engine.MembershipInput{TenantID: m.TenantID, Role: role, Status: string(m.Status)}
		t, err := s.Tenants.GetByID(ctx, m.TenantID)
		if err != nil {
			return Grant{}, err
		}
		if t != nil {
			in.Tenant = &engine.TenantInput{ID: t.ID, Status: string(t.Status)}
		}
	}
	d, err := s.Policy.EvaluateSessionGrant(ctx, in)
	if err != nil {
		return Grant{}, err
	}
	if !d.Allow {
		return Grant{}, denial(realm.Tenant, d.Reason)
	}
	return Grant{Realm: realm.Tenant, SubjectID: u.ID, TenantID: tenantID, Role: role}, nil
}

// adminGrant asks the session grant policy whether the admin may hold a session.
func (s *Service) adminGrant(ctx context.Context, phase engine.Phase, a *admindomain.AdminUser) (Grant, error) {
	d, err := s.Policy.EvaluateSessionGrant(ctx, engine.SessionInput{
		Realm: realm.Admin.String(),
		Phase: phase,
		Principal: engine.Principal{
			ID:            a.ID,
			Status:        string(a.Status),
			EmailVerified: true,
			Role:          a.Role,
		},
	})
	if err != nil {
		return Grant{}, err
	}
	if !d.Allow {
		return Grant{}, denial(realm.Admin, d.Reason)
	}
	return Grant{Realm: realm.Admin, SubjectID: a.ID, Role: a.Role}, nil
}

// denial maps a policy deny reason to an error kind. An inactive principal is reported as invalid
// credentials so that disabled accounts are indistinguishable from wrong passwords.
func denial(r realm.Realm, reason string) *Error {
	switch reason {
	case engine.ReasonInactivePrincipal:
		return failure(KindInvalidCredentials, auditdomain.ReasonInvalidCredentials)
	case engine.ReasonNoMembership:
		return failure(KindNoMembership, auditdomain.ReasonNoMembership)
	case engine.ReasonInactiveTenant:
		return failure(KindInactiveTenant, auditdomain.ReasonInactiveTenant)
	}
	if r == realm.Admin {
		return failure(KindInvalidCredentials, auditdomain.ReasonPolicyDenied)
	}
	return failure(KindNoMembership, auditdomain.ReasonPolicyDenied)
}
