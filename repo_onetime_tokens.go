package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OneTimeTokens stores activation and password reset codes
type OneTimeTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, token *OneTimeToken) (*OneTimeToken, error)
	// FindByCodeTx returns every token issued with code, newest first
	FindByCodeTx(ctx context.Context, tx bun.IDB, code string) ([]*OneTimeToken, error)
	HasActiveCodeTx(ctx context.Context, tx bun.IDB, code string, now time.Time) (bool, error)
	// MarkValidatedTx sets validated_at only if it is still unset and
	// reports whether this call was the one that set it.
	MarkValidatedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (bool, error)
}

type oneTimeTokens struct {
	db *bun.DB
}

var _ OneTimeTokens = (*oneTimeTokens)(nil)

// NewOneTimeTokensRepository returns a bun backed OneTimeTokens store
func NewOneTimeTokensRepository(db *bun.DB) OneTimeTokens {
	return &oneTimeTokens{db: db}
}

func (o *oneTimeTokens) CreateTx(ctx context.Context, tx bun.IDB, token *OneTimeToken) (*OneTimeToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(token).Exec(ctx); err != nil {
		return nil, err
	}
	return token, nil
}

func (o *oneTimeTokens) FindByCodeTx(ctx context.Context, tx bun.IDB, code string) ([]*OneTimeToken, error) {
	var records []*OneTimeToken
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.code = ?", code).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return records, nil
}

func (o *oneTimeTokens) HasActiveCodeTx(ctx context.Context, tx bun.IDB, code string, now time.Time) (bool, error) {
	var records []*OneTimeToken
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.code = ?", code).
		Where("?TableAlias.validated_at IS NULL").
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return false, err
	}

	for _, r := range records {
		if !r.IsExpired(now) {
			return true, nil
		}
	}

	return false, nil
}

func (o *oneTimeTokens) MarkValidatedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*OneTimeToken)(nil)).
		Set("validated_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("validated_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}
