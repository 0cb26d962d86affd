package repository

import (
	"context"

	"trade-identity/internal/audit/domain"
)

// Repository defines persistence for audit logs. The log is append-only: there is no update or delete.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
}
