package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// UserFinder is the read side of the credential store
type UserFinder interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
}

// UserProvider verifies credentials against the user store
type UserProvider struct {
	store             UserFinder
	Validator         func(*User) error
	requireActivation bool
	timeout           time.Duration
	logger            Logger
}

var _ IdentityProvider = (*UserProvider)(nil)

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserFinder) *UserProvider {
	return &UserProvider{
		store:     store,
		logger:    defLogger{},
		timeout:   DefaultStoreTimeout,
		Validator: defaultValidator,
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	u.logger = normalizeLogger(l)
	return u
}

// WithRequireActivation rejects accounts that have not been activated
func (u *UserProvider) WithRequireActivation(require bool) *UserProvider {
	u.requireActivation = require
	return u
}

// WithStoreTimeout bounds the user lookup
func (u *UserProvider) WithStoreTimeout(d time.Duration) *UserProvider {
	if d > 0 {
		u.timeout = d
	}
	return u
}

func (u *UserProvider) validate(user *User) error {
	if u.Validator != nil {
		return u.Validator(user)
	}
	return defaultValidator(user)
}

// VerifyIdentity will find the user, compare to the password, and return
// identity. Unknown emails and wrong passwords are indistinguishable.
func (u *UserProvider) VerifyIdentity(ctx context.Context, email, password string) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	user, err := u.store.GetByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			_ = ComparePasswordAndHash(password, dummyHash)
			return nil, ErrInvalidCredentials
		}
		u.logger.Error("failed to retrieve user during verification: %v", err)
		return nil, storeError(err, "failed to retrieve user during verification")
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if u.requireActivation && !user.Enabled {
		return nil, ErrAccountDisabled
	}

	if err := u.validate(user); err != nil {
		return nil, err
	}

	return newIdentity(user), nil
}

// FindIdentityByIdentifier resolves a user id or email without a password
func (u *UserProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	var user *User
	var err error
	if looksLikeEmail(identifier) {
		user, err = u.store.GetByEmail(ctx, identifier)
	} else {
		user, err = u.store.GetByID(ctx, identifier)
	}

	if err != nil {
		if isNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, storeError(err, "failed to retrieve identity")
	}

	if err := u.validate(user); err != nil {
		return nil, err
	}

	return newIdentity(user), nil
}

type authIdentity struct {
	id       string
	email    string
	fullName string
	role     string
}

var _ Identity = authIdentity{}

func newIdentity(user *User) authIdentity {
	return authIdentity{
		id:       user.ID.String(),
		email:    user.Email,
		fullName: user.FullName(),
		role:     user.Role,
	}
}

// NewIdentity returns the Identity snapshot of user
func NewIdentity(user *User) Identity {
	if user == nil {
		return nil
	}
	return newIdentity(user)
}

func (a authIdentity) ID() string {
	return a.id
}

func (a authIdentity) Email() string {
	return a.email
}

func (a authIdentity) FullName() string {
	return a.fullName
}

func (a authIdentity) Role() string {
	return a.role
}

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

func defaultValidator(u *User) error {
	if IsValidRole(u.Role) {
		return nil
	}
	return errors.New("user has an unknown or invalid role", errors.CategoryAuth).
		WithTextCode(TextCodeInvalidRole).
		WithMetadata(map[string]any{"role": u.Role, "user_id": u.ID.String()})
}

func looksLikeEmail(s string) bool {
	return strings.Contains(s, "@")
}
