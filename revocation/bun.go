package revocation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// RevokedToken is a row of the revoked_tokens table
type RevokedToken struct {
	bun.BaseModel `bun:"table:revoked_tokens,alias:rvk"`

	TokenHash string    `bun:"token_hash,pk" json:"token_hash"`
	ExpiresAt time.Time `bun:"expires_at,notnull" json:"expires_at"`
	RevokedAt time.Time `bun:"revoked_at,notnull" json:"revoked_at"`
}

// BunStore persists revocations in the application database, Purge drops
// rows for tokens that have expired
type BunStore struct {
	db  bun.IDB
	now func() time.Time
}

func NewBunStore(db bun.IDB) *BunStore {
	return &BunStore{db: db, now: time.Now}
}

// WithClock overrides the clock, used to test expiry
func (s *BunStore) WithClock(now func() time.Time) *BunStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *BunStore) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	now := s.now().UTC()
	if remaining(expiresAt, now) == 0 {
		return nil
	}

	record := &RevokedToken{
		TokenHash: Key(token),
		ExpiresAt: expiresAt.UTC(),
		RevokedAt: now,
	}

	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store revoked token: %w", err)
	}
	return nil
}

func (s *BunStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	record := &RevokedToken{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.token_hash = ?", Key(token)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up revoked token: %w", err)
	}

	return remaining(record.ExpiresAt, s.now().UTC()) > 0, nil
}

// Purge deletes entries whose token has expired and returns how many
func (s *BunStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*RevokedToken)(nil)).
		Where("expires_at <= ?", s.now().UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to purge revoked tokens: %w", err)
	}
	return res.RowsAffected()
}
