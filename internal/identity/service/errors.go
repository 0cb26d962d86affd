package service

import (
	"errors"
	"fmt"
	"time"

	auditdomain "trade-identity/internal/audit/domain"
)

// ErrorKind classifies a failed operation. The handler maps kinds to HTTP statuses.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindInvalidCredentials
	KindUnverified
	KindNoMembership
	KindInactiveTenant
	KindRateLimited
	KindInvalidToken
	KindExpired
	KindRevoked
	KindRealmMismatch
	KindReplayDetected
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUnverified:
		return "unverified"
	case KindNoMembership:
		return "no_membership"
	case KindInactiveTenant:
		return "inactive_tenant"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidToken:
		return "invalid_token"
	case KindExpired:
		return "expired"
	case KindRevoked:
		return "revoked"
	case KindRealmMismatch:
		return "realm_mismatch"
	case KindReplayDetected:
		return "replay_detected"
	default:
		return "internal"
	}
}

// Error is a classified failure. Reason is the audit reason code; Field names the offending input
// for validation errors; RetryAfter is set for rate-limited requests.
type Error struct {
	Kind       ErrorKind
	Reason     auditdomain.Reason
	Field      string
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	case e.Reason != "":
		return fmt.Sprintf("%s (%s)", e.Kind, e.Reason)
	default:
		return e.Kind.String()
	}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func validationError(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}

func failure(kind ErrorKind, reason auditdomain.Reason) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
