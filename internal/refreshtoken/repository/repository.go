package repository

import (
	"context"
	"time"

	"trade-identity/internal/refreshtoken/domain"
)

// Repository defines persistence for refresh token records. Every method requires an active tenant context.
type Repository interface {
	// GetByHash returns the record with the given token hash, or nil if none exists.
	GetByHash(ctx context.Context, tokenHash string) (*domain.Record, error)
	Create(ctx context.Context, r *domain.Record) error
	// Claim marks the record rotated in one conditional write. It reports false when the record was
	// already rotated, revoked or expired at the moment of the update.
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	// Revoke sets revoked_at when it is still null and reports whether this call set it.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	// RevokeFamily revokes every non-revoked record in the family and returns how many it revoked.
	RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error)
	// RevokeByUser revokes every live record issued to the tenant user.
	RevokeByUser(ctx context.Context, userID string, at time.Time) (int64, error)
}
