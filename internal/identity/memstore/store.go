// Package memstore is an in-memory implementation of the identity repositories and the tenant
// context executor, for tests and local development without Postgres.
//
// Units of work run one at a time and roll back on error, which gives the same observable
// behavior as serializable transactions. Every repository call outside an active scope fails
// with tenancy.ErrNoContext, matching the row-level security contract of the Postgres schema.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	accountdomain "trade-identity/internal/accounttoken/domain"
	admindomain "trade-identity/internal/admin/domain"
	auditdomain "trade-identity/internal/audit/domain"
	membershipdomain "trade-identity/internal/membership/domain"
	refreshdomain "trade-identity/internal/refreshtoken/domain"
	"trade-identity/internal/tenancy"
	tenantdomain "trade-identity/internal/tenant/domain"
	userdomain "trade-identity/internal/user/domain"
)

// Store holds every table. Stored values are never mutated in place; updates replace them, so a
// shallow copy of the maps is a consistent snapshot.
type Store struct {
	txMu sync.Mutex

	mu          sync.Mutex
	users       map[string]*userdomain.User
	admins      map[string]*admindomain.AdminUser
	tenants     map[string]*tenantdomain.Tenant
	memberships map[string]*membershipdomain.Membership
	refresh     map[string]*refreshdomain.Record
	refreshSeq  map[string]int
	account     map[string]*accountdomain.Token
	audit       []*auditdomain.AuditLog
	faults      map[string]error
	seq         int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[string]*userdomain.User),
		admins:      make(map[string]*admindomain.AdminUser),
		tenants:     make(map[string]*tenantdomain.Tenant),
		memberships: make(map[string]*membershipdomain.Membership),
		refresh:     make(map[string]*refreshdomain.Record),
		refreshSeq:  make(map[string]int),
		account:     make(map[string]*accountdomain.Token),
		faults:      make(map[string]error),
	}
}

type snapshot struct {
	users       map[string]*userdomain.User
	admins      map[string]*admindomain.AdminUser
	tenants     map[string]*tenantdomain.Tenant
	memberships map[string]*membershipdomain.Membership
	refresh     map[string]*refreshdomain.Record
	refreshSeq  map[string]int
	account     map[string]*accountdomain.Token
	audit       []*auditdomain.AuditLog
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		users:       cloneMap(s.users),
		admins:      cloneMap(s.admins),
		tenants:     cloneMap(s.tenants),
		memberships: cloneMap(s.memberships),
		refresh:     cloneMap(s.refresh),
		refreshSeq:  cloneMap(s.refreshSeq),
		account:     cloneMap(s.account),
		audit:       append([]*auditdomain.AuditLog(nil), s.audit...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.admins = snap.admins
	s.tenants = snap.tenants
	s.memberships = snap.memberships
	s.refresh = snap.refresh
	s.refreshSeq = snap.refreshSeq
	s.account = snap.account
	s.audit = snap.audit
}

// Executor runs units of work against the store.
type Executor struct {
	s *Store
}

// Executor returns the tenant context executor for the store.
func (s *Store) Executor() *Executor { return &Executor{s: s} }

// WithContext validates scope, runs fn with the scope bound, and restores the pre-call state if
// fn fails.
func (e *Executor) WithContext(ctx context.Context, scope tenancy.Scope, fn func(ctx context.Context) error) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if _, nested := tenancy.ScopeFrom(ctx); nested {
		return fmt.Errorf("tenancy: nested context for %s", scope.Kind)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.s.txMu.Lock()
	defer e.s.txMu.Unlock()

	snap := e.s.snapshot()
	if err := fn(tenancy.Bind(ctx, scope, nil)); err != nil {
		e.s.restore(snap)
		return err
	}
	return nil
}

// Fail makes the next call of op return err. Ops are named "<table>.<method>", e.g. "refresh_tokens.Claim".
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// enter checks the scope and any injected fault, then takes the data lock. Callers must unlock.
func (s *Store) enter(ctx context.Context, op string) error {
	if _, ok := tenancy.ScopeFrom(ctx); !ok {
		return tenancy.ErrNoContext
	}
	s.mu.Lock()
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		s.mu.Unlock()
		return err
	}
	return nil
}

// AddUser seeds a user.
func (s *Store) AddUser(u *userdomain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *u
	c.Email = userdomain.NormalizeEmail(c.Email)
	s.users[c.ID] = &c
}

// AddAdmin seeds an administrator.
func (s *Store) AddAdmin(a *admindomain.AdminUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	c.Email = userdomain.NormalizeEmail(c.Email)
	s.admins[c.ID] = &c
}

// AddTenant seeds a tenant.
func (s *Store) AddTenant(t *tenantdomain.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	s.tenants[c.ID] = &c
}

// AddMembership seeds a membership.
func (s *Store) AddMembership(m *membershipdomain.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *m
	s.memberships[c.ID] = &c
}

// SetMembershipStatus replaces a membership's status.
func (s *Store) SetMembershipStatus(id string, status membershipdomain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memberships[id]; ok {
		c := *m
		c.Status = status
		s.memberships[id] = &c
	}
}

// SetTenantStatus replaces a tenant's status.
func (s *Store) SetTenantStatus(id string, status tenantdomain.TenantStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[id]; ok {
		c := *t
		c.Status = status
		s.tenants[id] = &c
	}
}

// User returns a copy of the user, or nil.
func (s *Store) User(id string) *userdomain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		c := *u
		return &c
	}
	return nil
}

// Family returns copies of every refresh record in the family, oldest first.
func (s *Store) Family(familyID string) []*refreshdomain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.familyLocked(familyID)
}

func (s *Store) familyLocked(familyID string) []*refreshdomain.Record {
	var out []*refreshdomain.Record
	for _, r := range s.refresh {
		if r.FamilyID == familyID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.refreshSeq[out[i].ID] < s.refreshSeq[out[j].ID] })
	return out
}

// RefreshTokenCount returns the number of stored refresh records.
func (s *Store) RefreshTokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refresh)
}

// AuditLogs returns the persisted audit records in write order.
func (s *Store) AuditLogs() []*auditdomain.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*auditdomain.AuditLog(nil), s.audit...)
}

// AccountTokens returns copies of every account token of the purpose issued to userID.
func (s *Store) AccountTokens(purpose accountdomain.Purpose, userID string) []*accountdomain.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*accountdomain.Token
	for _, t := range s.account {
		if t.Purpose == purpose && t.UserID == userID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func timePtr(t time.Time) *time.Time { return &t }
