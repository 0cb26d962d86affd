// Package realm defines the two principal realms (tenant and admin) and detects which realm a
// request belongs to from its realm-named refresh cookies.
package realm

// Realm is the principal category a session belongs to. The zero value is invalid so that a
// forgotten assignment never silently becomes a tenant or admin session.
type Realm int

const (
	// Tenant is a tenant user scoped to tenant memberships.
	Tenant Realm = iota + 1
	// Admin is a platform administrator with global scope.
	Admin
)

// Cookie names are realm-distinct. A token issued in one realm is only ever set under that realm's cookie.
const (
	TenantCookie = "tenant_rt"
	AdminCookie  = "admin_rt"
)

// All lists every valid realm.
var All = []Realm{Tenant, Admin}

// String returns "tenant", "admin", or "invalid".
func (r Realm) String() string {
	switch r {
	case Tenant:
		return "tenant"
	case Admin:
		return "admin"
	default:
		return "invalid"
	}
}

// Valid reports whether r is Tenant or Admin.
func (r Realm) Valid() bool {
	return r == Tenant || r == Admin
}

// CookieName returns the refresh cookie name for the realm, or "" for an invalid realm.
func (r Realm) CookieName() string {
	switch r {
	case Tenant:
		return TenantCookie
	case Admin:
		return AdminCookie
	default:
		return ""
	}
}

// Audience returns the access-token audience claim for the realm.
func (r Realm) Audience() string {
	return "trade-" + r.String()
}
