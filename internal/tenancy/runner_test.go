package tenancy

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-identity/internal/realm"
)

var bindPattern = regexp.QuoteMeta("SELECT set_config('app.scope', $1, true)")

func newMock(t *testing.T) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRunner(db, time.Second), mock
}

func TestQuerier_NoContextFailsClosed(t *testing.T) {
	q, err := Querier(context.Background())
	assert.Nil(t, q)
	assert.ErrorIs(t, err, ErrNoContext)

	_, ok := ScopeFrom(context.Background())
	assert.False(t, ok)
}

func TestWithContext_BindsScopeAndCommits(t *testing.T) {
	r, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(bindPattern).
		WithArgs("tenant", "tenant", "u1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := r.WithContext(context.Background(), ForTenant("u1", "t1"), func(ctx context.Context) error {
		scope, ok := ScopeFrom(ctx)
		require.True(t, ok)
		assert.Equal(t, "t1", scope.TenantID)
		q, err := Querier(ctx)
		require.NoError(t, err)
		_, err = q.ExecContext(ctx, "UPDATE users SET name = 'x'")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithContext_RollsBackOnError(t *testing.T) {
	r, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(bindPattern).
		WithArgs("auth", "admin", SystemActor, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := r.WithContext(context.Background(), Auth(realm.Admin), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithContext_BindFailureNeverRunsFn(t *testing.T) {
	r, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(bindPattern).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	called := false
	err := r.WithContext(context.Background(), Auth(realm.Tenant), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithContext_InvalidScopeRejected(t *testing.T) {
	r, mock := newMock(t)
	testCases := []struct {
		name  string
		scope Scope
	}{
		{"zero", Scope{}},
		{"tenant without tenant id", Scope{Kind: KindTenant, Realm: realm.Tenant, ActorID: "u1"}},
		{"admin kind in tenant realm", Scope{Kind: KindAdmin, Realm: realm.Tenant, ActorID: "a1"}},
		{"auth without actor", Scope{Kind: KindAuth, Realm: realm.Tenant}},
		{"auth with out-of-range realm", Scope{Kind: KindAuth, Realm: realm.Realm(9), ActorID: SystemActor}},
		{"unknown kind", Scope{Kind: "root", Realm: realm.Admin, ActorID: "a1"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.WithContext(context.Background(), tc.scope, func(context.Context) error { return nil })
			assert.ErrorIs(t, err, ErrInvalidScope)
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithContext_RejectsNesting(t *testing.T) {
	r, _ := newMock(t)
	ctx := Bind(context.Background(), Auth(realm.Tenant), nil)
	err := r.WithContext(ctx, ForAdmin("a1"), func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestWithContext_TimeoutFailsClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewRunner(db, 20*time.Millisecond)

	mock.ExpectBegin()
	mock.ExpectExec(bindPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err = r.WithContext(context.Background(), Auth(realm.Tenant), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithContext_AuthScopeWithoutRealm(t *testing.T) {
	r, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(bindPattern).
		WithArgs("auth", "", SystemActor, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := r.WithContext(context.Background(), Auth(0), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
