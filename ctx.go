package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

// DefaultContextKey is where the bearer middleware stores the claims
const DefaultContextKey = "user"

var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithClaimsContext sets the AuthClaims in the given context
func WithClaimsContext(r context.Context, claims AuthClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the AuthClaims from the standard context
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	raw, ok := ctx.Value(claimsCtxKey).(AuthClaims)
	return raw, ok && raw != nil
}

// GetRouterClaims extracts the AuthClaims from the router context
func GetRouterClaims(ctx router.Context, key string) (AuthClaims, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(AuthClaims)
	return claims, ok
}

// Can checks a privilege for the principal stored in the standard context.
// Use CanFromRouter for router-based contexts.
func Can(ctx context.Context, authz *PrivilegeAuthorizer, m Module, s SubModule, t PrivilegeType) bool {
	claims, ok := GetClaims(ctx)
	if !ok || authz == nil {
		return false
	}
	return authz.Authorize(ctx, claims, m, s, t)
}

// CanFromRouter checks a privilege for the principal stored by the bearer
// middleware under the default key
func CanFromRouter(ctx router.Context, authz *PrivilegeAuthorizer, m Module, s SubModule, t PrivilegeType) bool {
	claims, ok := GetRouterClaims(ctx, "")
	if !ok || authz == nil {
		return false
	}
	return authz.Authorize(ctx.Context(), claims, m, s, t)
}
