package auth

import (
	"context"

	"github.com/goliatone/go-auth-privilege/middleware/jwtware"
	"github.com/goliatone/go-router"
)

// ValidationListener aliases the jwtware listener so consumers can use auth helpers directly.
type ValidationListener = jwtware.ValidationListener

// TokenValidatorAdapter exposes a TokenService to the bearer middleware
func TokenValidatorAdapter(ts TokenService) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(ctx context.Context, token string) (jwtware.AuthClaims, error) {
		claims, err := ts.Validate(ctx, token)
		if err != nil {
			return nil, err
		}
		return claims, nil
	})
}

// ContextEnricherAdapter adapts jwtware.AuthClaims to auth.AuthClaims and
// stores them in the standard context for downstream guard usage.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, authClaims)
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}

// ProtectedRoute returns the bearer middleware configured from cfg
func ProtectedRoute(cfg Config, ts TokenService, errorHandler router.ErrorHandler, listeners ...ValidationListener) router.MiddlewareFunc {
	mwCfg := jwtware.Config{
		ErrorHandler:      errorHandler,
		ContextKey:        cfg.GetContextKey(),
		TokenLookup:       cfg.GetTokenLookup(),
		AuthScheme:        cfg.GetAuthScheme(),
		ValidationTimeout: cfg.GetStoreTimeout(),
		TokenValidator:    TokenValidatorAdapter(ts),
		ContextEnricher:   ContextEnricherAdapter,
	}
	RegisterValidationListeners(&mwCfg, listeners...)
	return jwtware.New(mwCfg)
}
