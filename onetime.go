package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const (
	// OneTimeCodeLength is the number of digits in an issued code
	OneTimeCodeLength = 6
	maxIssueAttempts  = 10
)

var oneTimeCodeSpace = big.NewInt(1_000_000)

// ConsumeFunc is run in the same transaction that marks the token as
// used. If it fails the token stays valid.
type ConsumeFunc func(ctx context.Context, tx bun.IDB, user *User) error

// OneTimeTokenService issues and consumes single use codes
type OneTimeTokenService struct {
	repo    RepositoryManager
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	code    func() (string, error)
	logger  Logger
}

// NewOneTimeTokenService creates a service with a 15 minute TTL
func NewOneTimeTokenService(repo RepositoryManager) *OneTimeTokenService {
	return &OneTimeTokenService{
		repo:    repo,
		ttl:     DefaultOneTimeTokenTTL,
		timeout: DefaultStoreTimeout,
		now:     time.Now,
		code:    GenerateOneTimeCode,
		logger:  defLogger{},
	}
}

// WithTTL overrides the token lifetime
func (s *OneTimeTokenService) WithTTL(ttl time.Duration) *OneTimeTokenService {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithStoreTimeout bounds each operation
func (s *OneTimeTokenService) WithStoreTimeout(d time.Duration) *OneTimeTokenService {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithClock overrides the clock, used to test expiry
func (s *OneTimeTokenService) WithClock(now func() time.Time) *OneTimeTokenService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithCodeGenerator overrides how codes are produced
func (s *OneTimeTokenService) WithCodeGenerator(gen func() (string, error)) *OneTimeTokenService {
	if gen != nil {
		s.code = gen
	}
	return s
}

// WithLogger overrides the logger used by the service.
func (s *OneTimeTokenService) WithLogger(logger Logger) *OneTimeTokenService {
	s.logger = normalizeLogger(logger)
	return s
}

// TTL returns the configured token lifetime
func (s *OneTimeTokenService) TTL() time.Duration {
	return s.ttl
}

// GenerateOneTimeCode returns six uniformly distributed digits from crypto/rand
func GenerateOneTimeCode() (string, error) {
	n, err := rand.Int(rand.Reader, oneTimeCodeSpace)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate one time code")
	}
	return fmt.Sprintf("%0*d", OneTimeCodeLength, n.Int64()), nil
}

// Issue creates a new code for user in its own transaction
func (s *OneTimeTokenService) Issue(ctx context.Context, user *User, purpose TokenPurpose) (*OneTimeToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var token *OneTimeToken
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, err = s.IssueTx(ctx, tx, user, purpose)
		return err
	})
	if err != nil {
		return nil, storeError(err, "failed to issue one time token")
	}
	return token, nil
}

// IssueTx creates a new code for user inside tx. A code that collides with
// another unexpired, unused code is regenerated.
func (s *OneTimeTokenService) IssueTx(ctx context.Context, tx bun.IDB, user *User, purpose TokenPurpose) (*OneTimeToken, error) {
	if user == nil {
		return nil, ErrNoAssociatedUser
	}

	now := s.now().UTC()

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		code, err := s.code()
		if err != nil {
			return nil, err
		}

		active, err := s.repo.OneTimeTokens().HasActiveCodeTx(ctx, tx, code, now)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check one time code uniqueness")
		}

		if active {
			s.logger.Debug("one time code collision, regenerating (attempt %d)", attempt+1)
			continue
		}

		userID := user.ID
		token := &OneTimeToken{
			Code:      code,
			UserID:    &userID,
			Purpose:   purpose,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}

		if _, err := s.repo.OneTimeTokens().CreateTx(ctx, tx, token); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store one time token")
		}

		return token, nil
	}

	return nil, goerrors.New("could not generate a unique one time code", goerrors.CategoryInternal).
		WithMetadata(map[string]any{"attempts": maxIssueAttempts})
}

// Consume validates code and marks it as used, returning its user
func (s *OneTimeTokenService) Consume(ctx context.Context, code string) (*User, error) {
	return s.ConsumeWith(ctx, code, nil)
}

// ConsumeWith validates code, marks it as used and runs fn atomically.
// Exactly one of any number of concurrent calls for the same code
// succeeds, the rest get ErrOneTimeTokenUsed.
func (s *OneTimeTokenService) ConsumeWith(ctx context.Context, code string, fn ConsumeFunc) (*User, error) {
	return s.ConsumeFor(ctx, code, "", fn)
}

// ConsumeFor is ConsumeWith restricted to tokens issued for purpose, a
// code issued for anything else is reported as not found.
func (s *OneTimeTokenService) ConsumeFor(ctx context.Context, code string, purpose TokenPurpose, fn ConsumeFunc) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var user *User
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.consumeTx(ctx, tx, code, purpose, fn)
		return err
	})
	if err != nil {
		return nil, storeError(err, "failed to consume one time token")
	}
	return user, nil
}

func (s *OneTimeTokenService) consumeTx(ctx context.Context, tx bun.IDB, code string, purpose TokenPurpose, fn ConsumeFunc) (*User, error) {
	now := s.now().UTC()

	candidates, err := s.repo.OneTimeTokens().FindByCodeTx(ctx, tx, code)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up one time token")
	}

	token := pickToken(filterPurpose(candidates, purpose), now)
	if token == nil {
		return nil, ErrOneTimeTokenNotFound
	}

	if token.IsUsed() {
		return nil, ErrOneTimeTokenUsed
	}

	if token.IsExpired(now) {
		return nil, ErrOneTimeTokenExpired
	}

	if token.UserID == nil {
		return nil, ErrNoAssociatedUser
	}

	user, err := s.repo.Users().GetByIDTx(ctx, tx, *token.UserID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNoAssociatedUser
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load one time token user")
	}

	marked, err := s.repo.OneTimeTokens().MarkValidatedTx(ctx, tx, token.ID, now)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark one time token as used")
	}

	if !marked {
		return nil, ErrOneTimeTokenUsed
	}

	if fn != nil {
		if err := fn(ctx, tx, user); err != nil {
			return nil, err
		}
	}

	return user, nil
}

// pickToken prefers the live token for a code, then the most recent one so
// the caller can report used or expired.
func pickToken(candidates []*OneTimeToken, now time.Time) *OneTimeToken {
	for _, t := range candidates {
		if !t.IsUsed() && !t.IsExpired(now) {
			return t
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return nil
}

func filterPurpose(candidates []*OneTimeToken, purpose TokenPurpose) []*OneTimeToken {
	if purpose == "" {
		return candidates
	}
	out := make([]*OneTimeToken, 0, len(candidates))
	for _, t := range candidates {
		if t.Purpose == purpose {
			out = append(out, t)
		}
	}
	return out
}
