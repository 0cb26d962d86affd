package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-identity/internal/membership/domain"
	"trade-identity/internal/realm"
	"trade-identity/internal/tenancy"
)

var cols = []string{"id", "user_id", "tenant_id", "role", "status", "created_at"}

func bound(t *testing.T) (context.Context, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return tenancy.Bind(context.Background(), tenancy.Auth(realm.Tenant), db), mock
}

func TestListActiveByUser(t *testing.T) {
	ctx, mock := bound(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM memberships WHERE user_id = $1 AND status = 'active'")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("m1", "u1", "t1", "buyer", "active", now).
			AddRow("m2", "u1", "t2", "seller", "active", now))

	got, err := NewPostgresRepository().ListActiveByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.RoleSeller, got[1].Role)
	assert.True(t, got[0].Active())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByUserAndTenant_Missing(t *testing.T) {
	ctx, mock := bound(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND tenant_id = $2")).
		WithArgs("u1", "t9").
		WillReturnError(sql.ErrNoRows)

	m, err := NewPostgresRepository().GetByUserAndTenant(ctx, "u1", "t9")
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestCreate_DefaultsActive(t *testing.T) {
	ctx, mock := bound(t)
	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO memberships")).
		WithArgs("m1", "u1", "t1", "buyer", "active", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := &domain.Membership{ID: "m1", UserID: "u1", TenantID: "t1", Role: domain.RoleBuyer, CreatedAt: now}
	require.NoError(t, NewPostgresRepository().Create(ctx, m))
	assert.Equal(t, domain.StatusActive, m.Status)
}

func TestWithoutContext(t *testing.T) {
	_, err := NewPostgresRepository().ListActiveByUser(context.Background(), "u1")
	assert.ErrorIs(t, err, tenancy.ErrNoContext)
}
