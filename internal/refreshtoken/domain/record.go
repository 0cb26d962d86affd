// Package domain defines refresh token records and their lifecycle states.
package domain

import (
	"errors"
	"time"

	"trade-identity/internal/realm"
)

// Record is one refresh token in a rotation family. Only TokenHash is stored; the plaintext is
// returned to the client once and never persisted.
type Record struct {
	ID         string
	UserID     string // set for tenant-realm tokens
	AdminID    string // set for admin-realm tokens
	TenantID   string // tenant the session was granted for; empty for admin tokens
	TokenHash  string
	FamilyID   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RotatedAt  *time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
	ClientIP   string
	UserAgent  string
}

// State is the lifecycle state of a record.
type State int

const (
	StateFresh State = iota + 1
	StateRotated
	StateRevoked
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRotated:
		return "rotated"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

var ErrSubject = errors.New("refresh token must reference exactly one of user or admin")

// Validate checks the record before insert.
func (r *Record) Validate() error {
	if (r.UserID == "") == (r.AdminID == "") {
		return ErrSubject
	}
	if r.ID == "" || r.TokenHash == "" || r.FamilyID == "" {
		return errors.New("refresh token id, hash and family are required")
	}
	if !r.ExpiresAt.After(r.IssuedAt) {
		return errors.New("refresh token must expire after it is issued")
	}
	return nil
}

// Realm returns the realm implied by the record's subject columns, or the zero Realm when the
// record references both or neither.
func (r *Record) Realm() realm.Realm {
	switch {
	case r.UserID != "" && r.AdminID == "":
		return realm.Tenant
	case r.AdminID != "" && r.UserID == "":
		return realm.Admin
	default:
		return 0
	}
}

// SubjectID returns the user or admin id the record was issued to.
func (r *Record) SubjectID() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.AdminID
}

// State reports the record's state at now. Revocation wins over rotation and expiry.
func (r *Record) State(now time.Time) State {
	switch {
	case r.RevokedAt != nil:
		return StateRevoked
	case r.RotatedAt != nil:
		return StateRotated
	case !now.Before(r.ExpiresAt):
		return StateExpired
	default:
		return StateFresh
	}
}

// Claimable reports whether a conditional claim at now would succeed.
func (r *Record) Claimable(now time.Time) bool {
	return r.RotatedAt == nil && r.RevokedAt == nil && now.Before(r.ExpiresAt)
}
