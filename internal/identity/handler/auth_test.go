package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditdomain "trade-identity/internal/audit/domain"
	refreshdomain "trade-identity/internal/refreshtoken/domain"
	"trade-identity/internal/realm"
	"trade-identity/internal/server/interceptors"
)

func TestLogin_SetsRealmCookie(t *testing.T) {
	f := newFixture(t)
	w, c := f.login(t, "/auth/login", map[string]string{"email": buyerEmail, "password": password, "tenantId": "t1"})

	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, "/auth", c.Path)
	assert.Equal(t, cookieDomain, c.Domain)
	assert.Equal(t, 7*24*3600, c.MaxAge)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	body := decodeBody[sessionResponse](t, w)
	assert.NotEmpty(t, body.AccessToken)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.Equal(t, "tenant", body.Realm)
	assert.Equal(t, "t1", body.TenantID)
	assert.Equal(t, "buyer", body.Role)
	assert.NotContains(t, w.Body.String(), c.Value, "refresh token must only travel in the cookie")
}

func TestLogin_AutoTenantAndAmbiguity(t *testing.T) {
	f := newFixture(t)
	w, _ := f.login(t, "/auth/login", creds(buyerEmail))
	assert.Equal(t, "t1", decodeBody[sessionResponse](t, w).TenantID)

	w = f.do(http.MethodPost, "/auth/login", "198.51.100.8", creds(traderEmail))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "tenantId", decodeBody[errorBody](t, w).Field)

	w = f.do(http.MethodPost, "/auth/tenant/login", "198.51.100.8", creds(buyerEmail))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "tenantId", decodeBody[errorBody](t, w).Field)

	_, _ = f.login(t, "/auth/tenant/login", map[string]string{"email": traderEmail, "password": password, "tenantId": "t2"})
}

func TestLogin_NoEnumeration(t *testing.T) {
	f := newFixture(t)
	wrong := f.do(http.MethodPost, "/auth/login", "198.51.100.8", map[string]string{"email": buyerEmail, "password": "Wr0ng-Password!"})
	unverified := f.do(http.MethodPost, "/auth/login", "198.51.100.9", creds(newbieEmail))
	unknown := f.do(http.MethodPost, "/auth/login", "198.51.100.10", creds("ghost@example.com"))

	for _, w := range []*httptest.ResponseRecorder{wrong, unverified, unknown} {
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, wrong.Body.String(), w.Body.String())
		assert.Empty(t, w.Result().Cookies())
	}
}

func TestLogin_Forbidden(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/auth/login", "198.51.100.8", creds(loneEmail))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, "/auth/tenant/login", "198.51.100.8", map[string]string{"email": buyerEmail, "password": password, "tenantId": "t2"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, codeForbidden, decodeBody[errorBody](t, w).Code)
}

func TestLogin_RateLimited(t *testing.T) {
	f := newFixture(t)
	bad := map[string]string{"email": buyerEmail, "password": "Wr0ng-Password!"}
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/auth/login", "198.51.100.8", bad).Code)
	}
	w := f.do(http.MethodPost, "/auth/login", "198.51.100.8", creds(buyerEmail))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))

	// Same email from another address is throttled by the email key.
	w = f.do(http.MethodPost, "/auth/login", "203.0.113.50", creds(buyerEmail))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestLogin_SpoofedForwardedForIsThrottledByPeer(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		body := map[string]string{"email": fmt.Sprintf("nobody%d@example.com", i), "password": "Wr0ng-Password!"}
		w := f.doForwarded("/auth/login", "198.51.100.66", fmt.Sprintf("203.0.113.%d", i+1), body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	body := map[string]string{"email": "nobody9@example.com", "password": "Wr0ng-Password!"}
	w := f.doForwarded("/auth/login", "198.51.100.66", "203.0.113.99", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	rec := f.store.AuditLogs()
	assert.Equal(t, "198.51.100.66", rec[len(rec)-1].IP)
}

func TestLogin_TrustedProxyForwardsClientIP(t *testing.T) {
	trusted, err := interceptors.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	f := newFixtureBehind(t, trusted)

	// Distinct clients behind one proxy are keyed separately.
	for i := 0; i < 6; i++ {
		body := map[string]string{"email": fmt.Sprintf("nobody%d@example.com", i), "password": "Wr0ng-Password!"}
		w := f.doForwarded("/auth/login", "10.0.0.5", fmt.Sprintf("203.0.113.%d", i+1), body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	// One client behind the proxy is still throttled on its forwarded address.
	for i := 0; i < 5; i++ {
		body := map[string]string{"email": fmt.Sprintf("other%d@example.com", i), "password": "Wr0ng-Password!"}
		assert.Equal(t, http.StatusUnauthorized, f.doForwarded("/auth/login", "10.0.0.5", "192.0.2.77", body).Code)
	}
	w := f.doForwarded("/auth/login", "10.0.0.6", "192.0.2.77, 10.0.0.5", creds(buyerEmail))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestLogin_MultibyteUserAgentIsStoredAsValidUTF8(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(creds(buyerEmail)))
	r := httptest.NewRequest(http.MethodPost, "/auth/login", &buf)
	r.RemoteAddr = "198.51.100.7:40000"
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("User-Agent", "a"+strings.Repeat("日", 200)+"\xff")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	c := responseCookie(t, w, realm.TenantCookie)
	sw := f.authed(decodeBody[sessionResponse](t, w).AccessToken, asCookie(realm.TenantCookie, c))
	fam := f.store.Family(decodeBody[principalResponse](t, sw).FamilyID)
	require.Len(t, fam, 1)
	assert.True(t, utf8.ValidString(fam[0].UserAgent))
	assert.LessOrEqual(t, len(fam[0].UserAgent), 512)
}

func TestLogin_MalformedBody(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/auth/login", "198.51.100.8", "not an object")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "body", decodeBody[errorBody](t, w).Field)

	w = f.do(http.MethodGet, "/auth/login", "198.51.100.8", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAdminLogin_SetsAdminCookie(t *testing.T) {
	f := newFixture(t)
	w, c := f.login(t, "/auth/admin/login", creds(adminEmail))
	assert.Equal(t, realm.AdminCookie, c.Name)
	body := decodeBody[sessionResponse](t, w)
	assert.Equal(t, "admin", body.Realm)
	assert.Empty(t, body.TenantID)

	// Tenant credentials do not work in the admin realm.
	w = f.do(http.MethodPost, "/auth/admin/login", "198.51.100.8", creds(buyerEmail))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_EndToEnd(t *testing.T) {
	f := newFixture(t)
	_, first := f.login(t, "/auth/login", map[string]string{"email": buyerEmail, "password": password, "tenantId": "t1"})

	w := f.do(http.MethodPost, "/auth/refresh", "198.51.100.7", nil, asCookie(realm.TenantCookie, first))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := responseCookie(t, w, realm.TenantCookie)
	assert.NotEqual(t, first.Value, second.Value)
	assert.Equal(t, "buyer", decodeBody[sessionResponse](t, w).Role)

	// Replay of the first cookie kills the family and clears both realm cookies.
	w = f.do(http.MethodPost, "/auth/refresh", "198.51.100.7", nil, asCookie(realm.TenantCookie, first))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, -1, responseCookie(t, w, realm.TenantCookie).MaxAge)
	assert.Equal(t, -1, responseCookie(t, w, realm.AdminCookie).MaxAge)

	w = f.do(http.MethodPost, "/auth/refresh", "198.51.100.7", nil, asCookie(realm.TenantCookie, second))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_NoCookie(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/auth/refresh", "198.51.100.7", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeInvalidSession, decodeBody[errorBody](t, w).Code)

	logs := f.store.AuditLogs()
	require.NotEmpty(t, logs, "a cookie-less refresh is audited")
	rec := logs[len(logs)-1]
	assert.Equal(t, auditdomain.ActionRefreshFailed, rec.Action)
	assert.Equal(t, auditdomain.ReasonInvalidToken, rec.ReasonCode)
	assert.Equal(t, "none", rec.Realm)
	assert.Equal(t, "198.51.100.7", rec.IP)
}

func TestRefresh_RealmMismatch(t *testing.T) {
	f := newFixture(t)
	_, c := f.login(t, "/auth/login", creds(buyerEmail))

	w := f.do(http.MethodPost, "/auth/refresh", "198.51.100.7", nil, asCookie(realm.AdminCookie, c))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "accessToken")
	for _, c := range w.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge, "no %s cookie may be issued", c.Name)
	}

	// The family was revoked, so the token no longer works in its own realm either.
	w = f.do(http.MethodPost, "/auth/refresh", "198.51.100.7", nil, asCookie(realm.TenantCookie, c))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_BothCookiesRevokesBoth(t *testing.T) {
	f := newFixture(t)
	_, tc := f.login(t, "/auth/login", creds(buyerEmail))
	_, ac := f.login(t, "/auth/admin/login", creds(adminEmail))

	w := f.do(http.MethodPost, "/auth/refresh", "198.51.100.7", nil, asCookie(realm.TenantCookie, tc), asCookie(realm.AdminCookie, ac))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, -1, responseCookie(t, w, realm.TenantCookie).MaxAge)
	assert.Equal(t, -1, responseCookie(t, w, realm.AdminCookie).MaxAge)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/auth/refresh", "198.51.100.7", nil, asCookie(realm.TenantCookie, tc)).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/auth/refresh", "198.51.100.7", nil, asCookie(realm.AdminCookie, ac)).Code)
}

func TestLogout_AlwaysSucceeds(t *testing.T) {
	f := newFixture(t)
	_, c := f.login(t, "/auth/login", creds(buyerEmail))

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodPost, "/auth/logout", "198.51.100.7", nil, asCookie(realm.TenantCookie, c))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, -1, responseCookie(t, w, realm.TenantCookie).MaxAge)
		assert.Equal(t, -1, responseCookie(t, w, realm.AdminCookie).MaxAge)
	}
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/auth/logout", "198.51.100.7", nil).Code)

	f.store.Fail("refresh_tokens.GetByHash", assert.AnError)
	w := f.do(http.MethodPost, "/auth/logout", "198.51.100.7", nil, asCookie(realm.TenantCookie, c))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())

	w = f.do(http.MethodPost, "/auth/refresh", "198.51.100.7", nil, asCookie(realm.TenantCookie, c))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSession_ReturnsPrincipal(t *testing.T) {
	f := newFixture(t)
	w, c := f.login(t, "/auth/login", creds(buyerEmail))
	access := decodeBody[sessionResponse](t, w).AccessToken

	r := f.authed(access, asCookie(realm.TenantCookie, c))
	require.Equal(t, http.StatusOK, r.Code, r.Body.String())
	p := decodeBody[principalResponse](t, r)
	assert.Equal(t, "u-buyer", p.SubjectID)
	assert.Equal(t, "tenant", p.Realm)
	assert.Equal(t, "t1", p.TenantID)
	assert.NotEmpty(t, p.FamilyID)

	// Presented with the admin cookie, the tenant token is checked against the admin key and fails.
	r = f.authed(access, asCookie(realm.AdminCookie, c))
	assert.Equal(t, http.StatusUnauthorized, r.Code)
}

func TestRefreshOutcome_RecordStates(t *testing.T) {
	f := newFixture(t)
	_, c := f.login(t, "/auth/login", creds(buyerEmail))
	w := f.do(http.MethodPost, "/auth/refresh", "198.51.100.7", nil, asCookie(realm.TenantCookie, c))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody[sessionResponse](t, w)
	r := f.authed(body.AccessToken, asCookie(realm.TenantCookie, c))
	fam := f.store.Family(decodeBody[principalResponse](t, r).FamilyID)
	require.Len(t, fam, 2)
	assert.NotNil(t, fam[0].RotatedAt)
	assert.Nil(t, fam[1].RotatedAt)
	assert.Equal(t, refreshdomain.StateRotated, fam[0].State(time.Now()))
	assert.Equal(t, refreshdomain.StateFresh, fam[1].State(time.Now()))
}
