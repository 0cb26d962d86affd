package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	admindomain "trade-identity/internal/admin/domain"
	"trade-identity/internal/audit"
	"trade-identity/internal/identity/memstore"
	"trade-identity/internal/identity/service"
	"trade-identity/internal/logging"
	"trade-identity/internal/mail"
	membershipdomain "trade-identity/internal/membership/domain"
	"trade-identity/internal/policy/engine"
	"trade-identity/internal/ratelimit"
	"trade-identity/internal/realm"
	"trade-identity/internal/security"
	"trade-identity/internal/server/interceptors"
	tenantdomain "trade-identity/internal/tenant/domain"
	userdomain "trade-identity/internal/user/domain"
)

const (
	password     = "Tr4de-Secure!pw"
	buyerEmail   = "buyer@example.com"
	traderEmail  = "trader@example.com"
	newbieEmail  = "newbie@example.com"
	loneEmail    = "lone@example.com"
	adminEmail   = "ops@example.com"
	cookieDomain = "trade.example.com"
)

type mailbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *mailbox) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailbox) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	u, err := url.Parse(m.sent[len(m.sent)-1].Link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

type fixture struct {
	store  *memstore.Store
	router *mux.Router
	mail   *mailbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureBehind(t, nil)
}

// newFixtureBehind builds the fixture with forwarding headers honoured from trusted peers.
func newFixtureBehind(t *testing.T, trusted interceptors.TrustedProxies) *fixture {
	t.Helper()
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte(password))
	require.NoError(t, err)
	verified := time.Now().Add(-24 * time.Hour)

	store := memstore.New()
	store.AddTenant(&tenantdomain.Tenant{ID: "t1", Name: "Acme Metals", Status: tenantdomain.TenantStatusActive})
	store.AddTenant(&tenantdomain.Tenant{ID: "t2", Name: "Borealis Grain", Status: tenantdomain.TenantStatusActive})
	for _, u := range []*userdomain.User{
		{ID: "u-buyer", Email: buyerEmail, PasswordHash: hash, Status: userdomain.UserStatusActive, EmailVerifiedAt: &verified},
		{ID: "u-trader", Email: traderEmail, PasswordHash: hash, Status: userdomain.UserStatusActive, EmailVerifiedAt: &verified},
		{ID: "u-newbie", Email: newbieEmail, PasswordHash: hash, Status: userdomain.UserStatusActive},
		{ID: "u-lone", Email: loneEmail, PasswordHash: hash, Status: userdomain.UserStatusActive, EmailVerifiedAt: &verified},
	} {
		store.AddUser(u)
	}
	store.AddMembership(&membershipdomain.Membership{ID: "m1", UserID: "u-buyer", TenantID: "t1", Role: membershipdomain.RoleBuyer, Status: membershipdomain.StatusActive})
	store.AddMembership(&membershipdomain.Membership{ID: "m2", UserID: "u-trader", TenantID: "t1", Role: membershipdomain.RoleSeller, Status: membershipdomain.StatusActive})
	store.AddMembership(&membershipdomain.Membership{ID: "m3", UserID: "u-trader", TenantID: "t2", Role: membershipdomain.RoleBuyer, Status: membershipdomain.StatusActive})
	store.AddMembership(&membershipdomain.Membership{ID: "m4", UserID: "u-newbie", TenantID: "t1", Role: membershipdomain.RoleViewer, Status: membershipdomain.StatusActive})
	store.AddAdmin(&admindomain.AdminUser{ID: "a-ops", Email: adminEmail, PasswordHash: hash, Role: "platform_operator", Status: admindomain.StatusActive})

	keys, err := security.NewTestKeyring()
	require.NoError(t, err)
	policy, err := engine.NewOPAEvaluator(context.Background(), "")
	require.NoError(t, err)

	log := logging.Discard()
	box := &mailbox{}
	svc, err := service.New(service.Deps{
		Runner:        store.Executor(),
		Users:         store.Users(),
		Admins:        store.Admins(),
		Tenants:       store.Tenants(),
		Memberships:   store.Memberships(),
		RefreshTokens: store.RefreshTokens(),
		AccountTokens: store.AccountTokenRepo(),
		Hasher:        hasher,
		Keys:          keys,
		Gate:          ratelimit.NewGate(ratelimit.NewMemoryStore(), 5, 15*time.Minute),
		Policy:        policy,
		Audit:         audit.NewLogger(store.Executor(), store.AuditLogRepo(), log),
		Mail:          box,
		Log:           log,
	}, service.Options{RefreshTTL: 7 * 24 * time.Hour, AppBaseURL: "https://trade.example.com"})
	require.NoError(t, err)

	router := mux.NewRouter()
	router.Use(interceptors.RequestMetadata(trusted))
	New(svc, CookieConfig{Secure: true, Domain: cookieDomain}, log).RegisterRoutes(router)
	return &fixture{store: store, router: router, mail: box}
}

// do sends a request from ip with the given JSON body and cookies.
func (f *fixture) do(method, path, ip string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, path, &buf)
	r.RemoteAddr = ip + ":40000"
	r.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

// doForwarded sends a login-style request from peer carrying X-Forwarded-For: forwarded.
func (f *fixture) doForwarded(path, peer, forwarded string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	r := httptest.NewRequest(http.MethodPost, path, &buf)
	r.RemoteAddr = peer + ":40000"
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Forwarded-For", forwarded)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

// authed calls GET /auth/session with a bearer access token.
func (f *fixture) authed(access string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	r.RemoteAddr = "198.51.100.7:40000"
	r.Header.Set("Authorization", "Bearer "+access)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func (f *fixture) login(t *testing.T, path string, body map[string]string) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	w := f.do(http.MethodPost, path, "198.51.100.7", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return w, responseCookie(t, w, cookieFor(path))
}

func cookieFor(path string) string {
	if path == "/auth/admin/login" {
		return realm.AdminCookie
	}
	return realm.TenantCookie
}

func responseCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", name)
	return nil
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func creds(email string) map[string]string {
	return map[string]string{"email": email, "password": password}
}

func asCookie(name string, c *http.Cookie) *http.Cookie {
	return &http.Cookie{Name: name, Value: c.Value}
}
