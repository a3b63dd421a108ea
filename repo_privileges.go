package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// Privileges is the privilege store. Grants are read fresh on every call.
type Privileges interface {
	PrivilegeProvider
	Find(ctx context.Context, req Requirement) (*Privilege, error)
	Create(ctx context.Context, privilege *Privilege) (*Privilege, error)
	Grant(ctx context.Context, userID uuid.UUID, req Requirement) error
	RevokeGrant(ctx context.Context, userID uuid.UUID, req Requirement) error
	Seed(ctx context.Context) (int, error)
}

type privileges struct {
	db *bun.DB
}

var _ Privileges = (*privileges)(nil)

// NewPrivilegesRepository returns a bun backed Privileges store
func NewPrivilegesRepository(db *bun.DB) Privileges {
	return &privileges{db: db}
}

func (p *privileges) FindForUser(ctx context.Context, userID string) ([]Privilege, error) {
	id, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid user id").
			WithMetadata(map[string]any{"user_id": userID})
	}

	var records []Privilege
	err = p.db.NewSelect().
		Model(&records).
		Join("JOIN user_privileges AS uprv ON uprv.privilege_id = prv.id").
		Where("uprv.user_id = ?", id).
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	return records, nil
}

func (p *privileges) Find(ctx context.Context, req Requirement) (*Privilege, error) {
	return p.findTx(ctx, p.db, req)
}

func (p *privileges) findTx(ctx context.Context, tx bun.IDB, req Requirement) (*Privilege, error) {
	record := &Privilege{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.module = ?", string(req.Module)).
		Where("?TableAlias.sub_module = ?", string(req.SubModule)).
		Where("?TableAlias.privilege_type = ?", string(req.Type)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerrors.New("privilege not found", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound).
				WithMetadata(map[string]any{"authority": req.Authority()})
		}
		return nil, err
	}
	return record, nil
}

// Create inserts a privilege, a second privilege with the same triple is
// rejected with ErrPrivilegeExists.
func (p *privileges) Create(ctx context.Context, privilege *Privilege) (*Privilege, error) {
	if privilege == nil {
		return nil, goerrors.New("privilege must not be nil", goerrors.CategoryBadInput)
	}

	if err := privilege.Requirement().Validate(); err != nil {
		return nil, err
	}

	if privilege.ID == uuid.Nil {
		privilege.ID = uuid.New()
	}

	if privilege.CreatedAt == nil {
		now := time.Now().UTC()
		privilege.CreatedAt = &now
	}

	err := p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := p.findTx(ctx, tx, privilege.Requirement()); err == nil {
			return ErrPrivilegeExists
		} else if !goerrors.IsNotFound(err) {
			return err
		}

		_, err := tx.NewInsert().Model(privilege).Exec(ctx)
		return err
	})

	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrPrivilegeExists
		}
		return nil, err
	}

	return privilege, nil
}

func (p *privileges) Grant(ctx context.Context, userID uuid.UUID, req Requirement) error {
	if err := req.Validate(); err != nil {
		return err
	}

	privilege, err := p.Find(ctx, req)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = p.db.NewInsert().
		Model(&UserPrivilege{
			UserID:      userID,
			PrivilegeID: privilege.ID,
			CreatedAt:   &now,
		}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

func (p *privileges) RevokeGrant(ctx context.Context, userID uuid.UUID, req Requirement) error {
	privilege, err := p.Find(ctx, req)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	_, err = p.db.NewDelete().
		Model((*UserPrivilege)(nil)).
		Where("user_id = ?", userID).
		Where("privilege_id = ?", privilege.ID).
		Exec(ctx)
	return err
}

// Seed creates every privilege of the taxonomy that is still missing and
// returns how many were created.
func (p *privileges) Seed(ctx context.Context) (int, error) {
	created := 0
	for _, req := range AllRequirements() {
		privilege, err := NewPrivilege(req.Module, req.SubModule, req.Type)
		if err != nil {
			return created, err
		}
		if _, err := p.Create(ctx, privilege); err != nil {
			if errors.Is(err, ErrPrivilegeExists) {
				continue
			}
			return created, err
		}
		created++
	}
	return created, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
