package interceptors

import (
	"encoding/json"
	"net/http"
	"strings"

	"trade-identity/internal/realm"
	"trade-identity/internal/security"
)

const bearerPrefix = "bearer "

// Introspector validates an access token against one realm's key.
type Introspector interface {
	Introspect(r realm.Realm, accessToken string) (*security.AccessClaims, error)
}

// RequireBearer validates the Bearer access token and stores its claims in the request context.
// The realm is taken from the realm cookie only; a request carrying no realm cookie or both realm
// cookies is rejected, as is a token signed for the other realm.
func RequireBearer(keys Introspector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			det := realm.Detect(r)
			if token == "" || det.Presence != realm.Single {
				unauthenticated(w)
				return
			}
			claims, err := keys.Introspect(det.Realm, token)
			if err != nil {
				unauthenticated(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), claims)))
		})
	}
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func unauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    "unauthenticated",
		"message": "missing or invalid authorization",
	})
}
