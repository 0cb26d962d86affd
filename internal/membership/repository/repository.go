package repository

import (
	"context"

	"trade-identity/internal/membership/domain"
)

// Repository defines persistence for memberships.
type Repository interface {
	GetByUserAndTenant(ctx context.Context, userID, tenantID string) (*domain.Membership, error)
	// ListActiveByUser returns the user's active memberships, oldest first.
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Membership, error)
	Create(ctx context.Context, m *domain.Membership) error
}
