package repository

import (
	"context"
	"database/sql"
	"errors"

	"trade-identity/internal/membership/domain"
	"trade-identity/internal/tenancy"
)

const membershipColumns = `id, user_id, tenant_id, role, status, created_at`

type PostgresRepository struct{}

// NewPostgresRepository returns a membership repository backed by the tenancy-bound transaction.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

type scanner interface {
	Scan(dest ...any) error
}

// GetByUserAndTenant returns the membership for the user and tenant, or nil if not found.
func (r *PostgresRepository) GetByUserAndTenant(ctx context.Context, userID, tenantID string) (*domain.Membership, error) {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return nil, err
	}
	m, err := scanMembership(q.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND tenant_id = $2`, userID, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ListActiveByUser returns the user's active memberships.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND status = 'active' ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create persists the membership. The membership must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, m *domain.Membership) error {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return err
	}
	if m.Status == "" {
		m.Status = domain.StatusActive
	}
	_, err = q.ExecContext(ctx, `INSERT INTO memberships (`+membershipColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.UserID, m.TenantID, string(m.Role), string(m.Status), m.CreatedAt)
	return err
}

func scanMembership(s scanner) (*domain.Membership, error) {
	var (
		m            domain.Membership
		role, status string
	)
	if err := s.Scan(&m.ID, &m.UserID, &m.TenantID, &role, &status, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = domain.Role(role)
	m.Status = domain.Status(status)
	return &m, nil
}
