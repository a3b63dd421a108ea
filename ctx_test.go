package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-privilege"
	"github.com/goliatone/go-auth-privilege/middleware/jwtware"
	"github.com/goliatone/go-auth-privilege/revocation"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type foreignClaims struct{}

func (foreignClaims) Subject() string { return "x" }
func (foreignClaims) UserID() string  { return "x" }
func (foreignClaims) Role() string    { return "USER" }

func TestClaimsContext(t *testing.T) {
	_, ok := auth.GetClaims(context.Background())
	assert.False(t, ok)

	claims := &auth.JWTClaims{UID: "user-1", UserRole: auth.RoleUser}
	ctx := auth.ContextEnricherAdapter(context.Background(), claims)

	got, ok := auth.GetClaims(ctx)
	require.True(t, ok)
	assert.Equal(t, "user-1", got.UserID())

	untouched := auth.ContextEnricherAdapter(context.Background(), foreignClaims{})
	_, ok = auth.GetClaims(untouched)
	assert.False(t, ok, "claims from another implementation are not propagated")
}

func TestGetRouterClaims(t *testing.T) {
	ctx := router.NewMockContext()
	ctx.LocalsMock[auth.DefaultContextKey] = &auth.JWTClaims{UID: "user-1"}

	claims, ok := auth.GetRouterClaims(ctx, "")
	require.True(t, ok)
	assert.Equal(t, "user-1", claims.UserID())

	_, ok = auth.GetRouterClaims(ctx, "principal")
	assert.False(t, ok)
}

func TestTokenValidatorAdapter(t *testing.T) {
	clock := newFakeClock()
	store := revocation.NewMemoryStore(time.Hour).WithClock(clock.Now)
	ts := newTokenService(clock, store)
	validator := auth.TokenValidatorAdapter(ts)

	token, err := ts.Generate(testIdentity{id: "user-1", email: "a@example.com", role: auth.RoleUser})
	require.NoError(t, err)

	claims, err := validator.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject())

	require.NoError(t, ts.Revoke(context.Background(), token))

	claims, err = validator.Validate(context.Background(), token)
	assert.Nil(t, claims)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenRevoked))
}

func TestRegisterValidationListeners(t *testing.T) {
	cfg := &jwtware.Config{}
	listener := func(router.Context, jwtware.AuthClaims) error { return nil }

	auth.RegisterValidationListeners(cfg, listener, listener)
	assert.Len(t, cfg.ValidationListeners, 2)

	auth.RegisterValidationListeners(nil, listener)
	auth.RegisterValidationListeners(cfg)
	assert.Len(t, cfg.ValidationListeners, 2)
}
