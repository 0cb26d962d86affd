package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trade-identity/internal/refreshtoken/domain"
	"trade-identity/internal/tenancy"
)

const recordColumns = `id, user_id, admin_id, tenant_id, token_hash, family_id, issued_at, expires_at,
	rotated_at, revoked_at, last_used_at, client_ip, user_agent`

type PostgresRepository struct{}

// NewPostgresRepository returns a refresh token repository backed by the tenancy-bound transaction.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

type scanner interface {
	Scan(dest ...any) error
}

// GetByHash returns the record for tokenHash, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.Record, error) {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Create inserts a new FRESH record.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO refresh_tokens (id, user_id, admin_id, tenant_id, token_hash, family_id,
		issued_at, expires_at, client_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, nullString(rec.UserID), nullString(rec.AdminID), nullString(rec.TenantID), rec.TokenHash, rec.FamilyID,
		rec.IssuedAt, rec.ExpiresAt, nullString(rec.ClientIP), nullString(rec.UserAgent))
	return err
}

// Claim sets rotated_at and last_used_at only if the record is still claimable. The condition is
// evaluated by the database under the row lock, so of two concurrent claims exactly one affects a row.
func (r *PostgresRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return false, err
	}
	res, err := q.ExecContext(ctx, `UPDATE refresh_tokens SET rotated_at = $2, last_used_at = $2
		WHERE id = $1 AND rotated_at IS NULL AND revoked_at IS NULL AND expires_at > $2`, id, at)
	return affected(res, err)
}

// Revoke sets revoked_at on one record if it is not already revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return false, err
	}
	res, err := q.ExecContext(ctx, `UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	return affected(res, err)
}

// RevokeFamily revokes every non-revoked record sharing familyID.
func (r *PostgresRepository) RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error) {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `UPDATE refresh_tokens SET revoked_at = $2 WHERE family_id = $1 AND revoked_at IS NULL`, familyID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RevokeByUser revokes every non-revoked record issued to userID.
func (r *PostgresRepository) RevokeByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanRecord(s scanner) (*domain.Record, error) {
	var (
		rec                          domain.Record
		userID, adminID, tenantID    sql.NullString
		clientIP, userAgent          sql.NullString
		rotatedAt, revokedAt, usedAt sql.NullTime
	)
	err := s.Scan(&rec.ID, &userID, &adminID, &tenantID, &rec.TokenHash, &rec.FamilyID, &rec.IssuedAt, &rec.ExpiresAt,
		&rotatedAt, &revokedAt, &usedAt, &clientIP, &userAgent)
	if err != nil {
		return nil, err
	}
	rec.UserID = userID.String
	rec.AdminID = adminID.String
	rec.TenantID = tenantID.String
	rec.ClientIP = clientIP.String
	rec.UserAgent = userAgent.String
	rec.RotatedAt = timePtr(rotatedAt)
	rec.RevokedAt = timePtr(revokedAt)
	rec.LastUsedAt = timePtr(usedAt)
	return &rec, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
