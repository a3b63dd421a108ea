package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the credential store
type Users interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByEmailTx(ctx context.Context, tx bun.IDB, email string) (bool, error)
	CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	EnableTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	SetEnabledTx(ctx context.Context, tx bun.IDB, id uuid.UUID, enabled bool) error
	// List returns one page of users, newest first, and the total matching
	List(ctx context.Context, opts ListUsersOptions) ([]*User, int, error)
	Count(ctx context.Context, role string) (int, error)
	// DeleteTx removes the user and its grants. One time tokens are kept
	// and lose their user.
	DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

// ListUsersOptions filters and pages a user listing. An empty Role
// matches every user.
type ListUsersOptions struct {
	Role   string
	Limit  int
	Offset int
}

const (
	DefaultUserPageSize = 20
	MaxUserPageSize     = 200
)

type users struct {
	repo repository.Repository[*User]
	db   *bun.DB
}

var _ Users = (*users)(nil)

// NewUsersRepository returns a bun backed Users store
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		repo: repo,
		db:   db,
	}
}

// NormalizeEmail lower cases and trims an email so lookups are case insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *users) GetByID(ctx context.Context, id string) (*User, error) {
	return u.repo.GetByID(ctx, id)
}

func (u *users) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

func (u *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return u.GetByEmailTx(ctx, u.db, email)
}

func (u *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email": email})
		}
		return nil, err
	}
	return record, nil
}

func (u *users) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return u.ExistsByEmailTx(ctx, u.db, email)
}

func (u *users) ExistsByEmailTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	return tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Exists(ctx)
}

func (u *users) CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)
	return u.repo.CreateTx(ctx, tx, user)
}

func (u *users) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return ensureAffected(res, id)
}

func (u *users) EnableTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	return u.SetEnabledTx(ctx, tx, id, true)
}

func (u *users) SetEnabledTx(ctx context.Context, tx bun.IDB, id uuid.UUID, enabled bool) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("enabled = ?", enabled).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return ensureAffected(res, id)
}

func (u *users) List(ctx context.Context, opts ListUsersOptions) ([]*User, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultUserPageSize
	}
	if limit > MaxUserPageSize {
		limit = MaxUserPageSize
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	records := []*User{}
	q := u.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.created_at DESC, ?TableAlias.email ASC").
		Limit(limit).
		Offset(offset)
	if opts.Role != "" {
		q = q.Where("?TableAlias.user_role = ?", opts.Role)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (u *users) Count(ctx context.Context, role string) (int, error) {
	q := u.db.NewSelect().Model((*User)(nil))
	if role != "" {
		q = q.Where("?TableAlias.user_role = ?", role)
	}
	return q.Count(ctx)
}

func (u *users) DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	if _, err := tx.NewDelete().
		Model((*UserPrivilege)(nil)).
		Where("user_id = ?", id).
		Exec(ctx); err != nil {
		return err
	}

	if _, err := tx.NewUpdate().
		Model((*OneTimeToken)(nil)).
		Set("user_id = NULL").
		Where("user_id = ?", id).
		Exec(ctx); err != nil {
		return err
	}

	res, err := tx.NewDelete().
		Model((*User)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return ensureAffected(res, id)
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func ensureAffected(res rowsAffected, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}
	return nil
}

func prepareUserDefaults(user *User) {
	if user == nil {
		return
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = RoleUser
	}
	user.Email = NormalizeEmail(user.Email)
	now := time.Now().UTC()
	if user.CreatedAt == nil {
		user.CreatedAt = &now
	}
	if user.UpdatedAt == nil {
		user.UpdatedAt = &now
	}
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sql.ErrNoRows) ||
		repository.IsRecordNotFound(err) ||
		goerrors.IsNotFound(err)
}
