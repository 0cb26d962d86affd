package repository

import (
	"context"

	"trade-identity/internal/admin/domain"
)

// Repository defines persistence for platform administrators.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.AdminUser, error)
	GetByEmail(ctx context.Context, email string) (*domain.AdminUser, error)
	Create(ctx context.Context, a *domain.AdminUser) error
}
