package auth

import (
	"context"
	"strings"
)

// Identity is the authenticated customer behind a request.
type Identity struct {
	CustomerID string
	Email      string
	Locale     string

	token string
}

// Token returns the raw bearer token so it can be forwarded to upstream APIs.
func (i *Identity) Token() string {
	if i == nil {
		return ""
	}
	return i.token
}

// NewIdentity builds an identity carrying a raw token. Used by tests and background callers.
func NewIdentity(customerID, token string) *Identity {
	return &Identity{CustomerID: strings.TrimSpace(customerID), token: strings.TrimSpace(token)}
}

type contextKey string

const identityContextKey contextKey = "github.com/kbook/checkout/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// BearerToken returns the forwarded token for ctx, or "".
func BearerToken(ctx context.Context) string {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return ""
	}
	return identity.Token()
}
