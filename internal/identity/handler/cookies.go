package handler

import (
	"net/http"
	"time"

	"trade-identity/internal/realm"
)

// cookiePath scopes refresh cookies to the /auth endpoints so they never reach other routes.
const cookiePath = "/auth"

// CookieConfig controls refresh cookie attributes. MaxAge defaults to the service refresh TTL.
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge time.Duration
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, r realm.Realm, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     r.CookieName(),
		Value:    token,
		Path:     cookiePath,
		Domain:   h.cookies.Domain,
		MaxAge:   int(h.cookies.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, r realm.Realm) {
	http.SetCookie(w, &http.Cookie{
		Name:     r.CookieName(),
		Value:    "",
		Path:     cookiePath,
		Domain:   h.cookies.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearAllCookies(w http.ResponseWriter) {
	for _, r := range realm.All {
		h.clearCookie(w, r)
	}
}
