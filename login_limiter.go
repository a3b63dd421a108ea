package auth

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// LoginLimiter throttles login attempts per email with a token bucket.
// A bucket is dropped once no attempt has touched it for ttl.
type LoginLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets *lru.LRU[string, *rate.Limiter]
}

// NewLoginLimiter allows burst attempts, refilled at perSecond
func NewLoginLimiter(perSecond float64, burst int, ttl time.Duration) *LoginLimiter {
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LoginLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: lru.NewLRU[string, *rate.Limiter](0, nil, ttl),
	}
}

// Allow consumes one attempt for email
func (l *LoginLimiter) Allow(email string) bool {
	if l == nil {
		return true
	}

	key := NormalizeEmail(email)

	l.mu.Lock()
	lim, ok := l.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
	}
	// Get does not extend expiry, re-adding does
	l.buckets.Add(key, lim)
	l.mu.Unlock()

	return lim.Allow()
}

// Reset forgets the attempts recorded for email
func (l *LoginLimiter) Reset(email string) {
	if l == nil {
		return
	}
	l.buckets.Remove(NormalizeEmail(email))
}
