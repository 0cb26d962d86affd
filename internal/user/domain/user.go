package domain

import (
	"errors"
	"strings"
	"time"
)

// User is a tenant-realm principal. Tenant access comes from memberships, never from the user row itself.
type User struct {
	ID              string
	Email           string
	Name            string
	PasswordHash    string
	Status          UserStatus
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Verified reports whether the user has confirmed their email address.
func (u *User) Verified() bool {
	return u != nil && u.EmailVerifiedAt != nil
}

// Active reports whether the account may sign in.
func (u *User) Active() bool {
	return u != nil && u.Status == UserStatusActive
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	u.Email = NormalizeEmail(u.Email)
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// NormalizeEmail lowercases and trims an address so lookups and rate-limit keys agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
