// Package domain defines audit records and the action and reason codes they carry.
package domain

import (
	"strings"
	"time"
)

// AuditLog is one append-only authentication event. Metadata never carries secrets.
type AuditLog struct {
	ID         string
	Action     Action
	Realm      string
	TenantID   string
	ActorID    string
	ReasonCode Reason
	Metadata   map[string]string
	IP         string
	CreatedAt  time.Time
}

// Action is what happened.
type Action string

const (
	ActionLoginSuccess          Action = "LOGIN_SUCCESS"
	ActionLoginFailed           Action = "LOGIN_FAILED"
	ActionLoginBlocked          Action = "LOGIN_BLOCKED"
	ActionRefreshSuccess        Action = "REFRESH_SUCCESS"
	ActionRefreshFailed         Action = "REFRESH_FAILED"
	ActionBothCookies           Action = "BOTH_COOKIES"
	ActionLogoutSuccess         Action = "LOGOUT_SUCCESS"
	ActionLogoutNoop            Action = "LOGOUT_NOOP"
	ActionPasswordResetRequest  Action = "PASSWORD_RESET_REQUESTED"
	ActionPasswordReset         Action = "PASSWORD_RESET"
	ActionPasswordResetFailed   Action = "PASSWORD_RESET_FAILED"
	ActionEmailVerified         Action = "EMAIL_VERIFIED"
	ActionEmailVerifyFailed     Action = "EMAIL_VERIFY_FAILED"
	ActionVerificationSent      Action = "VERIFICATION_SENT"
	ActionAccountFlowBlocked    Action = "ACCOUNT_FLOW_BLOCKED"
)

// Reason is the machine-readable cause attached to an action.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInvalidCredentials Reason = "INVALID_CREDENTIALS"
	ReasonUnverified         Reason = "UNVERIFIED"
	ReasonNoMembership       Reason = "NO_MEMBERSHIP"
	ReasonInactiveTenant     Reason = "INACTIVE_TENANT"
	ReasonPolicyDenied       Reason = "POLICY_DENIED"
	ReasonRateLimitedIP      Reason = "RATE_LIMITED_IP"
	ReasonRateLimitedEmail   Reason = "RATE_LIMITED_EMAIL"
	ReasonRateLimitedBoth    Reason = "RATE_LIMITED_BOTH"
	ReasonInvalidToken       Reason = "INVALID_TOKEN"
	ReasonRevoked            Reason = "REVOKED"
	ReasonExpired            Reason = "EXPIRED"
	ReasonRealmMismatch      Reason = "REALM_MISMATCH"
	ReasonRotatedReplay      Reason = "ROTATED_REPLAY"
	ReasonBothCookies        Reason = "BOTH_COOKIES"
	ReasonNoSession          Reason = "NO_SESSION"
	ReasonInternal           Reason = "INTERNAL"
)

var secretKeyMarkers = []string{"password", "token", "secret", "cookie", "authorization"}

// ScrubMetadata returns a copy of md without keys that could carry credentials.
func ScrubMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		lk := strings.ToLower(k)
		secret := false
		for _, m := range secretKeyMarkers {
			if strings.Contains(lk, m) {
				secret = true
				break
			}
		}
		if !secret {
			out[k] = v
		}
	}
	return out
}
