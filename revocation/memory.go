package revocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps revocations in process. The cache is unbounded so an
// entry only goes away once its token has expired.
type MemoryStore struct {
	mu      sync.Mutex
	entries *lru.LRU[string, time.Time]
	maxTTL  time.Duration
	now     func() time.Time
}

// NewMemoryStore drops entries maxTTL after they are added, so maxTTL must
// cover the longest token lifetime. Revoking a token that outlives it is
// an error.
func NewMemoryStore(maxTTL time.Duration) *MemoryStore {
	if maxTTL <= 0 {
		maxTTL = 24 * time.Hour
	}
	return &MemoryStore{
		entries: lru.NewLRU[string, time.Time](0, nil, maxTTL),
		maxTTL:  maxTTL,
		now:     time.Now,
	}
}

// WithClock overrides the clock, used to test expiry
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	left := remaining(expiresAt, s.now())
	if left == 0 {
		return nil
	}
	if left > s.maxTTL {
		return fmt.Errorf("token expires in %s, beyond the revocation store TTL of %s", left, s.maxTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Add(Key(token), expiresAt)
	return nil
}

func (s *MemoryStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(token)
	expiresAt, ok := s.entries.Get(key)
	if !ok {
		return false, nil
	}

	if remaining(expiresAt, s.now()) == 0 {
		s.entries.Remove(key)
		return false, nil
	}

	return true, nil
}

// Len reports the number of live entries
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}
