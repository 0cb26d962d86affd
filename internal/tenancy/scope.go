// Package tenancy binds a request-scoped actor and tenant identity to every database unit of work.
//
// Protected repositories obtain their querier from Querier(ctx), which only succeeds inside
// Runner.WithContext. The bound transaction carries app.scope, app.realm, app.actor_id and
// app.tenant_id settings that the row-level security policies read; a query issued without
// them is rejected by the database rather than returning an empty result.
package tenancy

import (
	"context"
	"database/sql"
	"errors"

	"trade-identity/internal/realm"
)

// Kind is the database scope a unit of work runs under.
type Kind string

const (
	// KindAuth is the pre-authentication system actor used by login, refresh, logout and account flows.
	KindAuth Kind = "auth"
	// KindTenant restricts rows to one tenant and one user.
	KindTenant Kind = "tenant"
	// KindAdmin is an authenticated platform administrator.
	KindAdmin Kind = "admin"
)

// SystemActor is recorded as app.actor_id for auth-scoped work.
const SystemActor = "system"

var (
	// ErrNoContext is returned when a protected query is attempted outside WithContext.
	ErrNoContext = errors.New("tenancy: no active tenant context")
	// ErrInvalidScope is returned when a scope is missing its realm or identity.
	ErrInvalidScope = errors.New("tenancy: invalid scope")
)

// Scope identifies who a unit of work runs as.
type Scope struct {
	Kind     Kind
	Realm    realm.Realm
	ActorID  string
	TenantID string
}

// Auth returns the system scope for pre-authentication work in realm r. r may be the zero Realm for
// work that is not yet attributable to a realm, such as auditing a request that carried no cookie.
func Auth(r realm.Realm) Scope {
	return Scope{Kind: KindAuth, Realm: r, ActorID: SystemActor}
}

// ForTenant returns the scope of a tenant user acting within tenantID.
func ForTenant(userID, tenantID string) Scope {
	return Scope{Kind: KindTenant, Realm: realm.Tenant, ActorID: userID, TenantID: tenantID}
}

// ForAdmin returns the scope of an authenticated administrator.
func ForAdmin(adminID string) Scope {
	return Scope{Kind: KindAdmin, Realm: realm.Admin, ActorID: adminID}
}

// Validate rejects scopes that would bind an incomplete context.
func (s Scope) Validate() error {
	if s.ActorID == "" {
		return ErrInvalidScope
	}
	switch s.Kind {
	case KindAuth:
		if s.Realm != 0 && !s.Realm.Valid() {
			return ErrInvalidScope
		}
		return nil
	case KindTenant:
		if s.Realm != realm.Tenant || s.TenantID == "" {
			return ErrInvalidScope
		}
		return nil
	case KindAdmin:
		if s.Realm != realm.Admin {
			return ErrInvalidScope
		}
		return nil
	default:
		return ErrInvalidScope
	}
}

// DBTX is the query surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type contextKey struct{ name string }

var boundKey = contextKey{"tenancy"}

type bound struct {
	scope Scope
	q     DBTX
}

// Bind returns ctx carrying scope and q. Runner.WithContext uses it with the scope's transaction;
// in-memory stores use it with a nil querier so that ScopeFrom still reports the active scope.
func Bind(ctx context.Context, scope Scope, q DBTX) context.Context {
	return context.WithValue(ctx, boundKey, &bound{scope: scope, q: q})
}

// ScopeFrom returns the active scope, if any.
func ScopeFrom(ctx context.Context) (Scope, bool) {
	b, ok := ctx.Value(boundKey).(*bound)
	if !ok || b == nil {
		return Scope{}, false
	}
	return b.scope, true
}

// Querier returns the transaction bound to ctx. It returns ErrNoContext when no scope is active.
func Querier(ctx context.Context) (DBTX, error) {
	b, ok := ctx.Value(boundKey).(*bound)
	if !ok || b == nil || b.q == nil {
		return nil, ErrNoContext
	}
	return b.q, nil
}
