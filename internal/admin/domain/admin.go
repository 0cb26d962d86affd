package domain

import (
	"errors"
	"strings"
	"time"
)

// AdminUser is a platform administrator. Admins have global scope and never hold tenant memberships.
type AdminUser struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Status       Status
	CreatedAt    time.Time
}

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Active reports whether the admin account may sign in.
func (a *AdminUser) Active() bool {
	return a != nil && a.Status == StatusActive
}

// Validate validates the admin for persistence.
func (a *AdminUser) Validate() error {
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if a.Email == "" {
		return errors.New("email is required")
	}
	if a.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if a.Role == "" {
		return errors.New("role is required")
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	return nil
}
