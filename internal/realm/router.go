package realm

import "net/http"

// Presence classifies which realm cookies a request carries.
type Presence int

const (
	// None means neither realm cookie is present (no session).
	None Presence = iota
	// Single means exactly one realm cookie is present.
	Single
	// Both means the client holds both realms' cookies; this is a security signal.
	Both
)

// Detection is the outcome of realm detection for one request.
type Detection struct {
	Presence Presence
	// Realm and Token are set only when Presence is Single.
	Realm Realm
	Token string
	// TenantToken and AdminToken carry the raw cookie values; both are set when Presence is Both.
	TenantToken string
	AdminToken  string
}

// Tokens returns every presented token keyed by realm, for revoking everything a request referenced.
func (d Detection) Tokens() map[Realm]string {
	out := make(map[Realm]string, 2)
	if d.TenantToken != "" {
		out[Tenant] = d.TenantToken
	}
	if d.AdminToken != "" {
		out[Admin] = d.AdminToken
	}
	return out
}

// Detect inspects the realm-named refresh cookies on r. The realm is never inferred from anything
// else (paths, headers, bodies), and when both cookies are present no realm is chosen.
func Detect(r *http.Request) Detection {
	tenant := cookieValue(r, TenantCookie)
	admin := cookieValue(r, AdminCookie)
	d := Detection{TenantToken: tenant, AdminToken: admin}
	switch {
	case tenant != "" && admin != "":
		d.Presence = Both
	case tenant != "":
		d.Presence = Single
		d.Realm = Tenant
		d.Token = tenant
	case admin != "":
		d.Presence = Single
		d.Realm = Admin
		d.Token = admin
	default:
		d.Presence = None
	}
	return d
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
