package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Executor runs fn inside an established tenant context.
type Executor interface {
	WithContext(ctx context.Context, scope Scope, fn func(ctx context.Context) error) error
}

const bindSQL = `SELECT set_config('app.scope', $1, true),
       set_config('app.realm', $2, true),
       set_config('app.actor_id', $3, true),
       set_config('app.tenant_id', $4, true)`

// Runner opens one transaction per unit of work and binds the scope to it.
type Runner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewRunner returns a Runner. Every unit of work is bounded by timeout (5s when zero).
func NewRunner(db *sql.DB, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Runner{db: db, timeout: timeout}
}

// WithContext establishes scope for the duration of fn. fn's database work commits together when fn
// returns nil and rolls back otherwise. Settings are transaction-local, so they are torn down on
// commit or rollback and never leak to the next user of the pooled connection.
func (r *Runner) WithContext(ctx context.Context, scope Scope, fn func(ctx context.Context) error) (err error) {
	if err := scope.Validate(); err != nil {
		return err
	}
	if _, nested := ScopeFrom(ctx); nested {
		return fmt.Errorf("tenancy: nested context for %s", scope.Kind)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tenancy: begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	realmName := ""
	if scope.Realm.Valid() {
		realmName = scope.Realm.String()
	}
	if _, err = tx.ExecContext(ctx, bindSQL, string(scope.Kind), realmName, scope.ActorID, scope.TenantID); err != nil {
		return fmt.Errorf("tenancy: bind: %w", err)
	}
	if err = fn(Bind(ctx, scope, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("tenancy: commit: %w", err)
	}
	return nil
}
