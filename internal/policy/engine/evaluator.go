package engine

import (
	"context"
)

// Phase is the point in the session lifecycle where a grant is evaluated.
type Phase string

const (
	PhaseLogin   Phase = "login"
	PhaseRefresh Phase = "refresh"
)

// Deny reasons produced by the default policy.
const (
	ReasonInactivePrincipal = "INACTIVE_PRINCIPAL"
	ReasonNoMembership      = "NO_MEMBERSHIP"
	ReasonInactiveTenant    = "INACTIVE_TENANT"
	ReasonNoRole            = "NO_ROLE"
	ReasonPolicyDenied      = "POLICY_DENIED"
)

// Principal is the authenticated subject as read fresh from the data store.
type Principal struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role,omitempty"`
}

// MembershipInput is the tenant membership being granted; nil for admin sessions.
type MembershipInput struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// TenantInput is the tenant being granted; nil for admin sessions.
type TenantInput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SessionInput is the policy input document.
type SessionInput struct {
	Realm      string           `json:"realm"`
	Phase      Phase            `json:"phase"`
	Principal  Principal        `json:"principal"`
	Membership *MembershipInput `json:"membership,omitempty"`
	Tenant     *TenantInput     `json:"tenant,omitempty"`
}

// Decision is the policy result. Reason is empty when Allow is true.
type Decision struct {
	Allow  bool
	Reason string
}

// Evaluator decides whether a principal may hold a session in a realm.
type Evaluator interface {
	EvaluateSessionGrant(ctx context.Context, in SessionInput) (Decision, error)
}
