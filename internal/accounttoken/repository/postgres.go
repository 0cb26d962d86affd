package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trade-identity/internal/accounttoken/domain"
	"trade-identity/internal/tenancy"
)

var ErrUnknownPurpose = errors.New("accounttoken: unknown purpose")

type PostgresRepository struct{}

// NewPostgresRepository returns an account token repository backed by the tenancy-bound transaction.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

func table(p domain.Purpose) (string, error) {
	switch p {
	case domain.PurposePasswordReset:
		return "password_reset_tokens", nil
	case domain.PurposeEmailVerification:
		return "email_verification_tokens", nil
	default:
		return "", ErrUnknownPurpose
	}
}

// Create inserts an unused token.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Token) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tbl, err := table(t.Purpose)
	if err != nil {
		return err
	}
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, token_hash, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`, tbl),
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt)
	return err
}

// GetByHash returns the token for tokenHash, or nil if not found.
func (r *PostgresRepository) GetByHash(ctx context.Context, purpose domain.Purpose, tokenHash string) (*domain.Token, error) {
	tbl, err := table(purpose)
	if err != nil {
		return nil, err
	}
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return nil, err
	}
	var (
		t    = domain.Token{Purpose: purpose}
		used sql.NullTime
	)
	err = q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, user_id, token_hash, expires_at, used_at, created_at FROM %s WHERE token_hash = $1`, tbl),
		tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &used, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if used.Valid {
		u := used.Time
		t.UsedAt = &u
	}
	return &t, nil
}

// Consume marks the token used in one conditional write.
func (r *PostgresRepository) Consume(ctx context.Context, purpose domain.Purpose, id string, at time.Time) (bool, error) {
	tbl, err := table(purpose)
	if err != nil {
		return false, err
	}
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return false, err
	}
	res, err := q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET used_at = $2 WHERE id = $1 AND used_at IS NULL AND expires_at > $2`, tbl), id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// InvalidateForUser marks outstanding tokens used so only the newest link works.
func (r *PostgresRepository) InvalidateForUser(ctx context.Context, purpose domain.Purpose, userID string, at time.Time) (int64, error) {
	tbl, err := table(purpose)
	if err != nil {
		return 0, err
	}
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET used_at = $2 WHERE user_id = $1 AND used_at IS NULL`, tbl), userID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
