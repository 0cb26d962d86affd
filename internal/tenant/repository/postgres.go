package repository

import (
	"context"
	"database/sql"
	"errors"

	"trade-identity/internal/tenancy"
	"trade-identity/internal/tenant/domain"
)

type PostgresRepository struct{}

// NewPostgresRepository returns a tenant repository backed by the tenancy-bound transaction.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// GetByID returns the tenant for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return nil, err
	}
	var (
		t      domain.Tenant
		status string
	)
	err = q.QueryRowContext(ctx, `SELECT id, name, status, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.Status = domain.TenantStatus(status)
	return &t, nil
}

// Create persists the tenant. The tenant must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO tenants (id, name, status, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, string(t.Status), t.CreatedAt)
	return err
}
