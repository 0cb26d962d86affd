package interceptors

import (
	"context"

	"trade-identity/internal/security"
)

type contextKey struct{ name string }

var (
	clientKey    = contextKey{"client"}
	principalKey = contextKey{"principal"}
)

// Client is the request metadata recorded on refresh tokens and audit records.
type Client struct {
	IP        string
	UserAgent string
}

// WithClient returns a context carrying the caller's metadata.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

// GetClient returns the client metadata from context and true if set; otherwise the zero value, false.
func GetClient(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(clientKey).(Client)
	return c, ok
}

// WithPrincipal returns a context carrying verified access token claims.
func WithPrincipal(ctx context.Context, claims *security.AccessClaims) context.Context {
	return context.WithValue(ctx, principalKey, claims)
}

// GetPrincipal returns the verified claims from context and true if set; otherwise nil, false.
func GetPrincipal(ctx context.Context) (*security.AccessClaims, bool) {
	c, ok := ctx.Value(principalKey).(*security.AccessClaims)
	return c, ok && c != nil
}
