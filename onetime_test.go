package auth_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-privilege"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/sync/errgroup"
)

func TestGenerateOneTimeCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9]{6}$`)
	for i := 0; i < 200; i++ {
		code, err := auth.GenerateOneTimeCode()
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
	}
}

func TestOneTimeTokenService_IssueAndConsume(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)
	clock := newFakeClock()
	svc := auth.NewOneTimeTokenService(repo).WithClock(clock.Now)

	user := createUser(t, db, "ana@example.com", false)

	token, err := svc.Issue(ctx, user, auth.PurposeActivation)
	require.NoError(t, err)
	assert.Len(t, token.Code, auth.OneTimeCodeLength)
	assert.Equal(t, auth.PurposeActivation, token.Purpose)
	assert.True(t, token.ExpiresAt.Equal(clock.Now().Add(15*time.Minute)))
	assert.Nil(t, token.ValidatedAt)

	got, err := svc.Consume(ctx, token.Code)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.Consume(ctx, token.Code)
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenUsed))
}

func TestOneTimeTokenService_Expiry(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)
	clock := newFakeClock()
	svc := auth.NewOneTimeTokenService(repo).WithClock(clock.Now)

	user := createUser(t, db, "ana@example.com", false)

	t.Run("valid just before the ttl", func(t *testing.T) {
		token, err := svc.Issue(ctx, user, auth.PurposeActivation)
		require.NoError(t, err)

		clock.Advance(14 * time.Minute)
		_, err = svc.Consume(ctx, token.Code)
		assert.NoError(t, err)
	})

	t.Run("expired after the ttl", func(t *testing.T) {
		token, err := svc.Issue(ctx, user, auth.PurposeActivation)
		require.NoError(t, err)

		clock.Advance(16 * time.Minute)
		_, err = svc.Consume(ctx, token.Code)
		require.Error(t, err)
		assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenExpired))
	})
}

func TestOneTimeTokenService_UnknownCode(t *testing.T) {
	repo, _ := newTestRepo(t)
	svc := auth.NewOneTimeTokenService(repo)

	_, err := svc.Consume(context.Background(), "000000")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenNotFound))
}

func TestOneTimeTokenService_NoUser(t *testing.T) {
	repo, _ := newTestRepo(t)
	svc := auth.NewOneTimeTokenService(repo)

	_, err := svc.Issue(context.Background(), nil, auth.PurposeActivation)
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeNoAssociatedUser))
}

func TestOneTimeTokenService_OrphanedToken(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)
	clock := newFakeClock()
	svc := auth.NewOneTimeTokenService(repo).WithClock(clock.Now)

	_, err := repo.OneTimeTokens().CreateTx(ctx, db, &auth.OneTimeToken{
		Code:      "424242",
		Purpose:   auth.PurposePasswordReset,
		CreatedAt: clock.Now(),
		ExpiresAt: clock.Now().Add(15 * time.Minute),
	})
	require.NoError(t, err)

	_, err = svc.Consume(ctx, "424242")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeNoAssociatedUser))
}

func TestOneTimeTokenService_PurposeMismatch(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)
	svc := auth.NewOneTimeTokenService(repo)

	user := createUser(t, db, "ana@example.com", false)
	token, err := svc.Issue(ctx, user, auth.PurposeActivation)
	require.NoError(t, err)

	_, err = svc.ConsumeFor(ctx, token.Code, auth.PurposePasswordReset, nil)
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenNotFound))

	_, err = svc.ConsumeFor(ctx, token.Code, auth.PurposeActivation, nil)
	assert.NoError(t, err)
}

func TestOneTimeTokenService_CollisionRegenerates(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)

	codes := []string{"111111", "111111", "222222"}
	next := 0
	svc := auth.NewOneTimeTokenService(repo).WithCodeGenerator(func() (string, error) {
		code := codes[next]
		next++
		return code, nil
	})

	user := createUser(t, db, "ana@example.com", false)

	first, err := svc.Issue(ctx, user, auth.PurposeActivation)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, user, auth.PurposeActivation)
	require.NoError(t, err)

	assert.Equal(t, "111111", first.Code)
	assert.Equal(t, "222222", second.Code)
}

func TestOneTimeTokenService_ConsumeCallbackFailureKeepsToken(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)
	svc := auth.NewOneTimeTokenService(repo)

	user := createUser(t, db, "ana@example.com", false)
	token, err := svc.Issue(ctx, user, auth.PurposeActivation)
	require.NoError(t, err)

	_, err = svc.ConsumeWith(ctx, token.Code, func(ctx context.Context, tx bun.IDB, user *auth.User) error {
		return auth.ErrAccountDisabled
	})
	require.Error(t, err)

	_, err = svc.Consume(ctx, token.Code)
	assert.NoError(t, err)
}

func TestOneTimeTokenService_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)
	svc := auth.NewOneTimeTokenService(repo)

	user := createUser(t, db, "ana@example.com", false)
	token, err := svc.Issue(ctx, user, auth.PurposePasswordReset)
	require.NoError(t, err)

	const workers = 8
	results := make([]error, workers)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			_, results[i] = svc.Consume(ctx, token.Code)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenUsed), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
}

// rivalTokens lets another consumer mark the token between the read and
// the update of consumeTx.
type rivalTokens struct {
	auth.OneTimeTokens
	rivals atomic.Int32
}

func (r *rivalTokens) MarkValidatedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (bool, error) {
	r.rivals.Add(1)
	won, err := r.OneTimeTokens.MarkValidatedTx(ctx, tx, id, at)
	if err != nil || !won {
		return won, err
	}
	return r.OneTimeTokens.MarkValidatedTx(ctx, tx, id, at)
}

type rivalRepo struct {
	auth.RepositoryManager
	tokens *rivalTokens
}

func (r rivalRepo) OneTimeTokens() auth.OneTimeTokens { return r.tokens }

func TestOneTimeTokenService_LostMarkRace(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)
	user := createUser(t, db, "ana@example.com", false)

	token, err := auth.NewOneTimeTokenService(repo).Issue(ctx, user, auth.PurposeActivation)
	require.NoError(t, err)

	tokens := &rivalTokens{OneTimeTokens: repo.OneTimeTokens()}
	svc := auth.NewOneTimeTokenService(rivalRepo{RepositoryManager: repo, tokens: tokens})

	called := false
	got, err := svc.ConsumeWith(ctx, token.Code, func(ctx context.Context, tx bun.IDB, user *auth.User) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenUsed))
	assert.False(t, called, "callback must not run for a token another consumer marked")
	assert.Equal(t, int32(1), tokens.rivals.Load())

	_, err = auth.NewOneTimeTokenService(repo).Consume(ctx, token.Code)
	assert.NoError(t, err, "the failed attempt rolls back")
}

func newFileRepo(t *testing.T) (auth.RepositoryManager, *bun.DB) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "auth.db") +
		"?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL"
	sqldb, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(8)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	_, err = auth.Migrate(context.Background(), db)
	require.NoError(t, err)

	repo := auth.NewRepositoryManager(db)
	repo.MustValidate()
	return repo, db
}

func TestOneTimeTokenService_ConcurrentConsumeAcrossConnections(t *testing.T) {
	ctx := context.Background()
	repo, db := newFileRepo(t)
	svc := auth.NewOneTimeTokenService(repo)

	user := createUser(t, db, "ana@example.com", false)
	token, err := svc.Issue(ctx, user, auth.PurposePasswordReset)
	require.NoError(t, err)

	const workers = 8
	results := make([]error, workers)
	var callbacks atomic.Int32
	start := make(chan struct{})

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			<-start
			_, results[i] = svc.ConsumeWith(ctx, token.Code, func(ctx context.Context, tx bun.IDB, user *auth.User) error {
				callbacks.Add(1)
				return nil
			})
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenUsed), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int32(1), callbacks.Load())
}
