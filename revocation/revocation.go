// Package revocation holds RevocationStore backends for the token service.
// Tokens are keyed by the SHA-256 of their compact form and kept until
// their natural expiry, after which the signature check alone rejects them.
package revocation

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultKeyPrefix namespaces revocation entries in shared stores
const DefaultKeyPrefix = "auth:revoked:"

// Key returns the storage key for a raw token
func Key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// remaining is how long an entry must be kept, zero means it can be dropped
func remaining(expiresAt, now time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	d := expiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
