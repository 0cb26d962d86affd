package memstore

import (
	"context"
	"errors"
	"sort"
	"time"

	accountdomain "trade-identity/internal/accounttoken/domain"
	accountrepo "trade-identity/internal/accounttoken/repository"
	admindomain "trade-identity/internal/admin/domain"
	adminrepo "trade-identity/internal/admin/repository"
	auditdomain "trade-identity/internal/audit/domain"
	auditrepo "trade-identity/internal/audit/repository"
	membershipdomain "trade-identity/internal/membership/domain"
	membershiprepo "trade-identity/internal/membership/repository"
	refreshdomain "trade-identity/internal/refreshtoken/domain"
	refreshrepo "trade-identity/internal/refreshtoken/repository"
	tenantdomain "trade-identity/internal/tenant/domain"
	tenantrepo "trade-identity/internal/tenant/repository"
	userdomain "trade-identity/internal/user/domain"
	userrepo "trade-identity/internal/user/repository"
)

var (
	_ userrepo.Repository       = (*Users)(nil)
	_ adminrepo.Repository      = (*Admins)(nil)
	_ tenantrepo.Repository     = (*Tenants)(nil)
	_ membershiprepo.Repository = (*Memberships)(nil)
	_ refreshrepo.Repository    = (*RefreshTokens)(nil)
	_ accountrepo.Repository    = (*AccountTokens)(nil)
	_ auditrepo.Repository      = (*AuditLogs)(nil)
)

// ErrDuplicate is returned when a unique column would collide.
var ErrDuplicate = errors.New("memstore: duplicate key")

// Users is the user repository view of a Store.
type Users struct{ s *Store }

// Users returns the user repository.
func (s *Store) Users() *Users { return &Users{s: s} }

func (r *Users) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	if err := r.s.enter(ctx, "users.GetByID"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (r *Users) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	if err := r.s.enter(ctx, "users.GetByEmail"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	email = userdomain.NormalizeEmail(email)
	for _, u := range r.s.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (r *Users) Create(ctx context.Context, u *userdomain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if err := r.s.enter(ctx, "users.Create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.Email == u.Email || existing.ID == u.ID {
			return ErrDuplicate
		}
	}
	c := *u
	r.s.users[c.ID] = &c
	return nil
}

func (r *Users) UpdatePasswordHash(ctx context.Context, id, passwordHash string, at time.Time) error {
	if err := r.s.enter(ctx, "users.UpdatePasswordHash"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		c := *u
		c.PasswordHash = passwordHash
		c.UpdatedAt = at
		r.s.users[id] = &c
	}
	return nil
}

func (r *Users) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	if err := r.s.enter(ctx, "users.MarkEmailVerified"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok && u.EmailVerifiedAt == nil {
		c := *u
		c.EmailVerifiedAt = timePtr(at)
		c.UpdatedAt = at
		r.s.users[id] = &c
	}
	return nil
}

// Admins is the administrator repository view of a Store.
type Admins struct{ s *Store }

// Admins returns the administrator repository.
func (s *Store) Admins() *Admins { return &Admins{s: s} }

func (r *Admins) GetByID(ctx context.Context, id string) (*admindomain.AdminUser, error) {
	if err := r.s.enter(ctx, "admin_users.GetByID"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	if a, ok := r.s.admins[id]; ok {
		c := *a
		return &c, nil
	}
	return nil, nil
}

func (r *Admins) GetByEmail(ctx context.Context, email string) (*admindomain.AdminUser, error) {
	if err := r.s.enter(ctx, "admin_users.GetByEmail"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	email = userdomain.NormalizeEmail(email)
	for _, a := range r.s.admins {
		if a.Email == email {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (r *Admins) Create(ctx context.Context, a *admindomain.AdminUser) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := r.s.enter(ctx, "admin_users.Create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	for _, existing := range r.s.admins {
		if existing.Email == a.Email || existing.ID == a.ID {
			return ErrDuplicate
		}
	}
	c := *a
	r.s.admins[c.ID] = &c
	return nil
}

// Tenants is the tenant repository view of a Store.
type Tenants struct{ s *Store }

// Tenants returns the tenant repository.
func (s *Store) Tenants() *Tenants { return &Tenants{s: s} }

func (r *Tenants) GetByID(ctx context.Context, id string) (*tenantdomain.Tenant, error) {
	if err := r.s.enter(ctx, "tenants.GetByID"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	if t, ok := r.s.tenants[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (r *Tenants) Create(ctx context.Context, t *tenantdomain.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := r.s.enter(ctx, "tenants.Create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	if _, ok := r.s.tenants[t.ID]; ok {
		return ErrDuplicate
	}
	c := *t
	r.s.tenants[c.ID] = &c
	return nil
}

// Memberships is the membership repository view of a Store.
type Memberships struct{ s *Store }

// Memberships returns the membership repository.
func (s *Store) Memberships() *Memberships { return &Memberships{s: s} }

func (r *Memberships) GetByUserAndTenant(ctx context.Context, userID, tenantID string) (*membershipdomain.Membership, error) {
	if err := r.s.enter(ctx, "memberships.GetByUserAndTenant"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	for _, m := range r.s.memberships {
		if m.UserID == userID && m.TenantID == tenantID {
			c := *m
			return &c, nil
		}
	}
	return nil, nil
}

func (r *Memberships) ListActiveByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error) {
	if err := r.s.enter(ctx, "memberships.ListActiveByUser"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	var out []*membershipdomain.Membership
	for _, m := range r.s.memberships {
		if m.UserID == userID && m.Active() {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Memberships) Create(ctx context.Context, m *membershipdomain.Membership) error {
	if err := r.s.enter(ctx, "memberships.Create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	for _, existing := range r.s.memberships {
		if existing.UserID == m.UserID && existing.TenantID == m.TenantID {
			return ErrDuplicate
		}
	}
	c := *m
	if c.Status == "" {
		c.Status = membershipdomain.StatusActive
	}
	r.s.memberships[c.ID] = &c
	return nil
}

// RefreshTokens is the refresh token repository view of a Store. Claim evaluates its condition
// under the store lock, so of two concurrent claims exactly one succeeds.
type RefreshTokens struct{ s *Store }

// RefreshTokens returns the refresh token repository.
func (s *Store) RefreshTokens() *RefreshTokens { return &RefreshTokens{s: s} }

func (r *RefreshTokens) GetByHash(ctx context.Context, tokenHash string) (*refreshdomain.Record, error) {
	if err := r.s.enter(ctx, "refresh_tokens.GetByHash"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	for _, rec := range r.s.refresh {
		if rec.TokenHash == tokenHash {
			c := *rec
			return &c, nil
		}
	}
	return nil, nil
}

func (r *RefreshTokens) Create(ctx context.Context, rec *refreshdomain.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := r.s.enter(ctx, "refresh_tokens.Create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	for _, existing := range r.s.refresh {
		if existing.TokenHash == rec.TokenHash || existing.ID == rec.ID {
			return ErrDuplicate
		}
	}
	c := *rec
	r.s.seq++
	r.s.refresh[c.ID] = &c
	r.s.refreshSeq[c.ID] = r.s.seq
	return nil
}

func (r *RefreshTokens) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := r.s.enter(ctx, "refresh_tokens.Claim"); err != nil {
		return false, err
	}
	defer r.s.mu.Unlock()
	rec, ok := r.s.refresh[id]
	if !ok || !rec.Claimable(at) {
		return false, nil
	}
	c := *rec
	c.RotatedAt = timePtr(at)
	c.LastUsedAt = timePtr(at)
	r.s.refresh[id] = &c
	return true, nil
}

func (r *RefreshTokens) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := r.s.enter(ctx, "refresh_tokens.Revoke"); err != nil {
		return false, err
	}
	defer r.s.mu.Unlock()
	rec, ok := r.s.refresh[id]
	if !ok || rec.RevokedAt != nil {
		return false, nil
	}
	c := *rec
	c.RevokedAt = timePtr(at)
	r.s.refresh[id] = &c
	return true, nil
}

func (r *RefreshTokens) RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error) {
	if err := r.s.enter(ctx, "refresh_tokens.RevokeFamily"); err != nil {
		return 0, err
	}
	defer r.s.mu.Unlock()
	return r.revokeWhere(at, func(rec *refreshdomain.Record) bool { return rec.FamilyID == familyID }), nil
}

func (r *RefreshTokens) RevokeByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	if err := r.s.enter(ctx, "refresh_tokens.RevokeByUser"); err != nil {
		return 0, err
	}
	defer r.s.mu.Unlock()
	return r.revokeWhere(at, func(rec *refreshdomain.Record) bool { return rec.UserID == userID }), nil
}

func (r *RefreshTokens) revokeWhere(at time.Time, match func(*refreshdomain.Record) bool) int64 {
	var n int64
	for id, rec := range r.s.refresh {
		if rec.RevokedAt != nil || !match(rec) {
			continue
		}
		c := *rec
		c.RevokedAt = timePtr(at)
		r.s.refresh[id] = &c
		n++
	}
	return n
}

// AccountTokens is the password reset and verification token repository view of a Store.
type AccountTokens struct{ s *Store }

// AccountTokenRepo returns the account token repository.
func (s *Store) AccountTokenRepo() *AccountTokens { return &AccountTokens{s: s} }

func (r *AccountTokens) Create(ctx context.Context, t *accountdomain.Token) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := r.s.enter(ctx, "account_tokens.Create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	if _, ok := r.s.account[t.ID]; ok {
		return ErrDuplicate
	}
	c := *t
	r.s.account[c.ID] = &c
	return nil
}

func (r *AccountTokens) GetByHash(ctx context.Context, purpose accountdomain.Purpose, tokenHash string) (*accountdomain.Token, error) {
	if err := r.s.enter(ctx, "account_tokens.GetByHash"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	for _, t := range r.s.account {
		if t.Purpose == purpose && t.TokenHash == tokenHash {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

func (r *AccountTokens) Consume(ctx context.Context, purpose accountdomain.Purpose, id string, at time.Time) (bool, error) {
	if err := r.s.enter(ctx, "account_tokens.Consume"); err != nil {
		return false, err
	}
	defer r.s.mu.Unlock()
	t, ok := r.s.account[id]
	if !ok || t.Purpose != purpose || !t.Usable(at) {
		return false, nil
	}
	c := *t
	c.UsedAt = timePtr(at)
	r.s.account[id] = &c
	return true, nil
}

func (r *AccountTokens) InvalidateForUser(ctx context.Context, purpose accountdomain.Purpose, userID string, at time.Time) (int64, error) {
	if err := r.s.enter(ctx, "account_tokens.InvalidateForUser"); err != nil {
		return 0, err
	}
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.account {
		if t.Purpose != purpose || t.UserID != userID || t.UsedAt != nil {
			continue
		}
		c := *t
		c.UsedAt = timePtr(at)
		r.s.account[id] = &c
		n++
	}
	return n, nil
}

// AuditLogs is the audit repository view of a Store.
type AuditLogs struct{ s *Store }

// AuditLogRepo returns the audit repository.
func (s *Store) AuditLogRepo() *AuditLogs { return &AuditLogs{s: s} }

func (r *AuditLogs) Create(ctx context.Context, a *auditdomain.AuditLog) error {
	if err := r.s.enter(ctx, "audit_logs.Create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	c := *a
	r.s.audit = append(r.s.audit, &c)
	return nil
}
