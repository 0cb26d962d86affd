package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"trade-identity/internal/admin/domain"
	"trade-identity/internal/tenancy"
)

const adminColumns = `id, email, name, password_hash, role, status, created_at`

type PostgresRepository struct{}

// NewPostgresRepository returns an admin repository backed by the tenancy-bound transaction.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// GetByID returns the admin for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AdminUser, error) {
	return r.getOne(ctx, `SELECT `+adminColumns+` FROM admin_users WHERE id = $1`, id)
}

// GetByEmail returns the admin with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.AdminUser, error) {
	return r.getOne(ctx, `SELECT `+adminColumns+` FROM admin_users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

// Create persists the admin. The admin must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AdminUser) error {
	if err := a.Validate(); err != nil {
		return err
	}
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO admin_users (`+adminColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Email, a.Name, a.PasswordHash, a.Role, string(a.Status), a.CreatedAt)
	return err
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.AdminUser, error) {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return nil, err
	}
	var (
		a      domain.AdminUser
		status string
	)
	err = q.QueryRowContext(ctx, query, arg).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Status = domain.Status(status)
	return &a, nil
}
