package guard

import (
	"context"

	auth "github.com/goliatone/go-auth-privilege"
	"github.com/goliatone/go-router"
)

// Config wires the guard to an authorizer and to where the bearer
// middleware left the claims
type Config struct {
	Authorizer *auth.PrivilegeAuthorizer
	// ContextKey is the locals key used by the bearer middleware
	ContextKey string
	// ClaimsFrom overrides how the principal is resolved
	ClaimsFrom   func(router.Context) (auth.AuthClaims, bool)
	ErrorHandler router.ErrorHandler
}

// RequirePrivilege lets the request through when the principal holds any
// of reqs. Missing principals, unknown privileges and store failures are
// all denied.
func RequirePrivilege(cfg Config, reqs ...auth.Requirement) router.MiddlewareFunc {
	cfg = defaults(cfg)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			claims, ok := cfg.ClaimsFrom(ctx)
			if !ok {
				return cfg.ErrorHandler(ctx, auth.ErrJWTMissingOrMalformed)
			}

			if err := cfg.Authorizer.Require(requestContext(ctx), claims, reqs...); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			return hf(ctx)
		}
	}
}

// RequireAuthority is RequirePrivilege for "MODULE:SUB_MODULE:TYPE"
// strings. It panics on authorities outside the taxonomy.
func RequireAuthority(cfg Config, authorities ...string) router.MiddlewareFunc {
	reqs := make([]auth.Requirement, 0, len(authorities))
	for _, authority := range authorities {
		reqs = append(reqs, auth.MustParseRequirement(authority))
	}
	return RequirePrivilege(cfg, reqs...)
}

func defaults(cfg Config) Config {
	if cfg.Authorizer == nil {
		panic("AUTH: guard configuration: Authorizer is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = auth.DefaultContextKey
	}

	if cfg.ClaimsFrom == nil {
		key := cfg.ContextKey
		cfg.ClaimsFrom = func(ctx router.Context) (auth.AuthClaims, bool) {
			return auth.GetRouterClaims(ctx, key)
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = auth.WriteError
	}

	return cfg
}

func requestContext(ctx router.Context) context.Context {
	if c := ctx.Context(); c != nil {
		return c
	}
	return context.Background()
}
