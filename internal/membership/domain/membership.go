package domain

import (
	"time"
)

// Membership links a user to a tenant with a role.
type Membership struct {
	ID        string
	UserID    string
	TenantID  string
	Role      Role
	Status    Status
	CreatedAt time.Time
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleViewer Role = "viewer"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Active reports whether the membership currently grants access.
func (m *Membership) Active() bool {
	return m != nil && m.Status == StatusActive
}
