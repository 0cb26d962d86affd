// Package domain defines single-use account tokens for password reset and email verification.
package domain

import (
	"errors"
	"time"
)

// Purpose selects which flow a token belongs to. Each purpose has its own table.
type Purpose string

const (
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailVerification Purpose = "email_verification"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposePasswordReset || p == PurposeEmailVerification
}

// Token is a hashed, single-use link token. The plaintext goes into the emailed link only.
type Token struct {
	ID        string
	UserID    string
	Purpose   Purpose
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Usable reports whether the token can still be consumed at now.
func (t *Token) Usable(now time.Time) bool {
	return t != nil && t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// Validate checks the token before insert.
func (t *Token) Validate() error {
	if !t.Purpose.Valid() {
		return errors.New("unknown token purpose")
	}
	if t.ID == "" || t.UserID == "" || t.TokenHash == "" {
		return errors.New("token id, user and hash are required")
	}
	if !t.ExpiresAt.After(t.CreatedAt) {
		return errors.New("token must expire after it is created")
	}
	return nil
}
