package service

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	admindomain "trade-identity/internal/admin/domain"
	"trade-identity/internal/audit"
	auditdomain "trade-identity/internal/audit/domain"
	"trade-identity/internal/identity/memstore"
	"trade-identity/internal/logging"
	"trade-identity/internal/mail"
	membershipdomain "trade-identity/internal/membership/domain"
	"trade-identity/internal/policy/engine"
	"trade-identity/internal/ratelimit"
	"trade-identity/internal/realm"
	"trade-identity/internal/security"
	tenantdomain "trade-identity/internal/tenant/domain"
	userdomain "trade-identity/internal/user/domain"
)

const (
	goodPassword = "Tr4de-Secure!pw"
	buyerEmail   = "buyer@example.com"
	traderEmail  = "trader@example.com"
	newbieEmail  = "newbie@example.com"
	adminEmail   = "ops@example.com"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureMail struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *captureMail) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMail) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	return m.sent[len(m.sent)-1]
}

func (m *captureMail) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fixture struct {
	store *memstore.Store
	svc   *Service
	clock *clock
	mail  *captureMail
	keys  *security.Keyring
}

// newFixture seeds two tenants, a buyer with one membership, a trader with two, an unverified
// user and an administrator, all with goodPassword.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte(goodPassword))
	require.NoError(t, err)

	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	verified := c.t.Add(-24 * time.Hour)

	store := memstore.New()
	store.AddTenant(&tenantdomain.Tenant{ID: "t1", Name: "Acme Metals", Status: tenantdomain.TenantStatusActive})
	store.AddTenant(&tenantdomain.Tenant{ID: "t2", Name: "Borealis Grain", Status: tenantdomain.TenantStatusActive})
	store.AddUser(&userdomain.User{ID: "u-buyer", Email: buyerEmail, PasswordHash: hash, Status: userdomain.UserStatusActive, EmailVerifiedAt: &verified})
	store.AddUser(&userdomain.User{ID: "u-trader", Email: traderEmail, PasswordHash: hash, Status: userdomain.UserStatusActive, EmailVerifiedAt: &verified})
	store.AddUser(&userdomain.User{ID: "u-newbie", Email: newbieEmail, PasswordHash: hash, Status: userdomain.UserStatusActive})
	store.AddMembership(&membershipdomain.Membership{ID: "m-buyer-t1", UserID: "u-buyer", TenantID: "t1", Role: membershipdomain.RoleBuyer, Status: membershipdomain.StatusActive, CreatedAt: c.t})
	store.AddMembership(&membershipdomain.Membership{ID: "m-trader-t1", UserID: "u-trader", TenantID: "t1", Role: membershipdomain.RoleSeller, Status: membershipdomain.StatusActive, CreatedAt: c.t})
	store.AddMembership(&membershipdomain.Membership{ID: "m-trader-t2", UserID: "u-trader", TenantID: "t2", Role: membershipdomain.RoleBuyer, Status: membershipdomain.StatusActive, CreatedAt: c.t.Add(time.Second)})
	store.AddMembership(&membershipdomain.Membership{ID: "m-newbie-t1", UserID: "u-newbie", TenantID: "t1", Role: membershipdomain.RoleViewer, Status: membershipdomain.StatusActive, CreatedAt: c.t})
	store.AddAdmin(&admindomain.AdminUser{ID: "a-ops", Email: adminEmail, PasswordHash: hash, Role: "platform_operator", Status: admindomain.StatusActive})

	keys, err := security.NewTestKeyring()
	require.NoError(t, err)
	policy, err := engine.NewOPAEvaluator(ctx, "")
	require.NoError(t, err)

	log := logging.Discard()
	m := &captureMail{}
	svc, err := New(Deps{
		Runner:        store.Executor(),
		Users:         store.Users(),
		Admins:        store.Admins(),
		Tenants:       store.Tenants(),
		Memberships:   store.Memberships(),
		RefreshTokens: store.RefreshTokens(),
		AccountTokens: store.AccountTokenRepo(),
		Hasher:        hasher,
		Keys:          keys,
		Gate:          ratelimit.NewGate(ratelimit.NewMemoryStore(), 5, 15*time.Minute).WithClock(c.Now),
		Policy:        policy,
		Audit:         audit.NewLogger(store.Executor(), store.AuditLogRepo(), log),
		Mail:          m,
		Log:           log,
	}, Options{RefreshTTL: 7 * 24 * time.Hour, AppBaseURL: "https://trade.example.com"})
	require.NoError(t, err)

	return &fixture{store: store, svc: svc.WithClock(c.Now), clock: c, mail: m, keys: keys}
}

func client(ip string) ClientMeta {
	return ClientMeta{IP: ip, UserAgent: "test-agent/1.0"}
}

func (f *fixture) login(t *testing.T, r realm.Realm, email, tenantID string) *Session {
	t.Helper()
	sess, err := f.svc.Login(context.Background(), LoginRequest{
		Realm: r, Email: email, Password: goodPassword, TenantID: tenantID, Client: client("198.51.100.7"),
	})
	require.NoError(t, err)
	return sess
}

func (f *fixture) refresh(r realm.Realm, token string) RefreshResult {
	return f.svc.Refresh(context.Background(), RefreshRequest{Realm: r, Token: token, Client: client("198.51.100.7")})
}

// lastAudit returns the most recent persisted audit record with action.
func (f *fixture) lastAudit(t *testing.T, action auditdomain.Action) *auditdomain.AuditLog {
	t.Helper()
	logs := f.store.AuditLogs()
	for i := len(logs) - 1; i >= 0; i-- {
		if logs[i].Action == action {
			return logs[i]
		}
	}
	t.Fatalf("no audit record with action %s", action)
	return nil
}

func (f *fixture) countAudit(action auditdomain.Action) int {
	n := 0
	for _, a := range f.store.AuditLogs() {
		if a.Action == action {
			n++
		}
	}
	return n
}

func linkToken(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	tok := u.Query().Get("token")
	require.NotEmpty(t, tok)
	return tok
}
