package realm

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRealm_ZeroValueIsInvalid(t *testing.T) {
	var r Realm
	assert.False(t, r.Valid())
	assert.Equal(t, "invalid", r.String())
	assert.Equal(t, "", r.CookieName())
}

func TestRealm_CookieNamesAreDistinct(t *testing.T) {
	assert.NotEqual(t, Tenant.CookieName(), Admin.CookieName())
	assert.NotEqual(t, Tenant.Audience(), Admin.Audience())
}

func TestDetect(t *testing.T) {
	testCases := []struct {
		name     string
		cookies  map[string]string
		presence Presence
		realm    Realm
		token    string
	}{
		{"none", nil, None, 0, ""},
		{"tenant only", map[string]string{TenantCookie: "t1"}, Single, Tenant, "t1"},
		{"admin only", map[string]string{AdminCookie: "a1"}, Single, Admin, "a1"},
		{"both", map[string]string{TenantCookie: "t1", AdminCookie: "a1"}, Both, 0, ""},
		{"empty value ignored", map[string]string{TenantCookie: ""}, None, 0, ""},
		{"unrelated cookie", map[string]string{"session": "x"}, None, 0, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
			for k, v := range tc.cookies {
				req.AddCookie(&http.Cookie{Name: k, Value: v})
			}
			d := Detect(req)
			assert.Equal(t, tc.presence, d.Presence)
			assert.Equal(t, tc.realm, d.Realm)
			assert.Equal(t, tc.token, d.Token)
		})
	}
}

func TestDetection_TokensWhenBoth(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: TenantCookie, Value: "t1"})
	req.AddCookie(&http.Cookie{Name: AdminCookie, Value: "a1"})
	toks := Detect(req).Tokens()
	assert.Equal(t, map[Realm]string{Tenant: "t1", Admin: "a1"}, toks)
}
