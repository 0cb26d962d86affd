package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"trade-identity/internal/audit/domain"
	"trade-identity/internal/tenancy"
)

type PostgresRepository struct{}

// NewPostgresRepository returns an audit log repository backed by the tenancy-bound transaction.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// Create appends one record. Metadata is scrubbed before it is written.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	q, err := tenancy.Querier(ctx)
	if err != nil {
		return err
	}
	md, err := json.Marshal(domain.ScrubMetadata(a.Metadata))
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO audit_logs (id, action, realm, tenant_id, actor_id, reason_code, metadata, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, string(a.Action), a.Realm, nullString(a.TenantID), nullString(a.ActorID), string(a.ReasonCode), md, nullString(a.IP), a.CreatedAt)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
