package auth_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-privilege"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadOptions(t *testing.T) {
	path := writeConfig(t, `
signing_key: s3cr3t
issuer: privileges
audience: [web, mobile]
one_time_token_ttl: 5m
require_activation: true
revocation_backend: redis
redis_url: redis://localhost:6379/1
`)

	opts, err := auth.LoadOptions(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", opts.GetSigningKey())
	assert.Equal(t, "privileges", opts.GetIssuer())
	assert.Equal(t, []string{"web", "mobile"}, opts.GetAudience())
	assert.Equal(t, 5*time.Minute, opts.GetOneTimeTokenTTL())
	assert.True(t, opts.GetRequireActivation())
	assert.Equal(t, "redis", opts.RevocationBackend)

	// untouched keys keep their defaults
	assert.Equal(t, "HS256", opts.GetSigningMethod())
	assert.Equal(t, auth.DefaultStoreTimeout, opts.GetStoreTimeout())
	assert.Equal(t, auth.DefaultTokenExpiration, opts.GetTokenExpiration())
	assert.Equal(t, "@every 1h", opts.PurgeSchedule)
}

func TestLoadOptions_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := auth.LoadOptions(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := auth.LoadOptions(writeConfig(t, "signing_key: [unterminated"))
		assert.Error(t, err)
	})

	t.Run("missing signing key", func(t *testing.T) {
		_, err := auth.LoadOptions(writeConfig(t, "issuer: privileges\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signing_key")
	})

	t.Run("unsupported signing method", func(t *testing.T) {
		_, err := auth.LoadOptions(writeConfig(t, "signing_key: k\nsigning_method: RS256\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HS256")
	})
}

func TestOptions_ZeroValueGetters(t *testing.T) {
	var opts auth.Options

	assert.Equal(t, "HS256", opts.GetSigningMethod())
	assert.Equal(t, "user", opts.GetContextKey())
	assert.Equal(t, "header:Authorization", opts.GetTokenLookup())
	assert.Equal(t, "Bearer", opts.GetAuthScheme())
	assert.Equal(t, 15*time.Minute, opts.GetOneTimeTokenTTL())
	assert.Equal(t, 10*time.Second, opts.GetStoreTimeout())
	assert.Equal(t, 24, opts.GetTokenExpiration())
	assert.False(t, opts.GetRequireActivation())
}
