package repository

import (
	"context"
	"time"

	"trade-identity/internal/user/domain"
)

// Repository defines persistence for tenant users. Every method requires an active tenant context.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string, at time.Time) error
	// MarkEmailVerified sets email_verified_at once; later calls leave the first timestamp in place.
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
}
