package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.identity.session_grant"

// DefaultPolicy grants tenant sessions to active users with an active membership in an active
// tenant, and admin sessions to active admins holding a role.
const DefaultPolicy = `package identity.session_grant

default allow := false

membership_active if {
	input.membership.status == "active"
}

tenant_active if {
	input.tenant.status == "active"
}

principal_active if {
	input.principal.status == "active"
}

allow if {
	input.realm == "tenant"
	principal_active
	membership_active
	tenant_active
}

allow if {
	input.realm == "admin"
	principal_active
	input.principal.role != ""
}

deny_reason := "" if {
	allow
} else := "INACTIVE_PRINCIPAL" if {
	not principal_active
} else := "NO_MEMBERSHIP" if {
	input.realm == "tenant"
	not membership_active
} else := "INACTIVE_TENANT" if {
	input.realm == "tenant"
	not tenant_active
} else := "NO_ROLE" if {
	input.realm == "admin"
} else := "POLICY_DENIED" if {
	true
}
`

// ErrUndefined is returned when the policy produced no decision document.
var ErrUndefined = errors.New("policy: session grant undefined")

// OPAEvaluator evaluates the session grant policy with an in-process OPA Rego query prepared once.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles module, or DefaultPolicy when module is empty.
func NewOPAEvaluator(ctx context.Context, module string) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultPolicy
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Module("session_grant.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile session grant policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// LoadPolicyFile reads a Rego module from path; an empty path returns DefaultPolicy.
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return DefaultPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read session grant policy: %w", err)
	}
	return string(b), nil
}

// EvaluateSessionGrant evaluates in. Any evaluation failure is returned as an error; callers deny.
func (e *OPAEvaluator) EvaluateSessionGrant(ctx context.Context, in SessionInput) (Decision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(toInput(in)))
	if err != nil {
		return Decision{}, fmt.Errorf("eval session grant: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, ErrUndefined
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, ErrUndefined
	}
	allow, _ := doc["allow"].(bool)
	if allow {
		return Decision{Allow: true}, nil
	}
	reason, _ := doc["deny_reason"].(string)
	if reason == "" {
		reason = ReasonPolicyDenied
	}
	return Decision{Reason: reason}, nil
}

// HealthCheck evaluates a known-good admin input to prove the prepared query still evaluates.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	d, err := e.EvaluateSessionGrant(ctx, SessionInput{
		Realm:     "admin",
		Phase:     PhaseLogin,
		Principal: Principal{ID: "healthcheck", Status: "active", Role: "healthcheck"},
	})
	if err != nil {
		return err
	}
	if !d.Allow {
		return fmt.Errorf("policy health check denied: %s", d.Reason)
	}
	return nil
}

// toInput converts in to plain maps so Rego sees absent membership and tenant as undefined.
func toInput(in SessionInput) map[string]interface{} {
	out := map[string]interface{}{
		"realm": in.Realm,
		"phase": string(in.Phase),
		"principal": map[string]interface{}{
			"id":             in.Principal.ID,
			"status":         in.Principal.Status,
			"email_verified": in.Principal.EmailVerified,
			"role":           in.Principal.Role,
		},
	}
	if in.Membership != nil {
		out["membership"] = map[string]interface{}{
			"tenant_id": in.Membership.TenantID,
			"role":      in.Membership.Role,
			"status":    in.Membership.Status,
		}
	}
	if in.Tenant != nil {
		out["tenant"] = map[string]interface{}{
			"id":     in.Tenant.ID,
			"status": in.Tenant.Status,
		}
	}
	return out
}
