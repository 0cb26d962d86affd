package repository

import (
	"context"
	"time"

	"trade-identity/internal/accounttoken/domain"
)

// Repository defines persistence for password reset and email verification tokens.
type Repository interface {
	Create(ctx context.Context, t *domain.Token) error
	// GetByHash returns the token of the given purpose, or nil if none exists.
	GetByHash(ctx context.Context, purpose domain.Purpose, tokenHash string) (*domain.Token, error)
	// Consume sets used_at only if the token is unused and unexpired at at, and reports whether it did.
	Consume(ctx context.Context, purpose domain.Purpose, id string, at time.Time) (bool, error)
	// InvalidateForUser marks every outstanding token of the purpose for userID as used.
	InvalidateForUser(ctx context.Context, purpose domain.Purpose, userID string, at time.Time) (int64, error)
}
