package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trade-identity/internal/tenancy"
	"trade-identity/internal/user/domain"
)

const userColumns = `id, email, name, password_hash, status, email_verified_at, created_at, updated_at`

// PostgresRepository reads and writes users through the transaction bound by tenancy.Runner.
type PostgresRepository struct{}

// NewPostgresRepository returns a user repository backed by the tenancy-bound transaction.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return nil, err
	}
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns the user with the given normalized email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return nil, err
	}
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email)))
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Status), nullTime(u.EmailVerifiedAt), u.CreatedAt, u.UpdatedAt)
	return err
}

// UpdatePasswordHash replaces the user's password hash.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string, at time.Time) error {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, passwordHash, at)
	return err
}

// MarkEmailVerified sets email_verified_at when it is still null.
func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`UPDATE users SET email_verified_at = $2, updated_at = $2 WHERE id = $1 AND email_verified_at IS NULL`, id, at)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u        domain.User
		status   string
		verified sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &status, &verified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Status = domain.UserStatus(status)
	if verified.Valid {
		t := verified.Time
		u.EmailVerifiedAt = &t
	}
	return &u, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
