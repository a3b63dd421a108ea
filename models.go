package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleAdmin manages the account and other users
	RoleAdmin UserRole = "ADMIN"
	// RoleUser is a regular user, capabilities come from privileges
	RoleUser UserRole = "USER"
)

// IsValidRole reports whether role is one of the known roles
func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role          UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	FirstName     string     `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName      string     `bun:"last_name,notnull" json:"last_name,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone         string     `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash  string     `bun:"password_hash" json:"-"`
	Enabled       bool       `bun:"enabled,notnull" json:"enabled"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// FullName joins first and last name
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Privilege is a single grantable (module, sub module, action) triple
type Privilege struct {
	bun.BaseModel `bun:"table:privileges,alias:prv"`
	ID            uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Module        Module        `bun:"module,notnull" json:"module"`
	SubModule     SubModule     `bun:"sub_module,notnull" json:"sub_module"`
	Type          PrivilegeType `bun:"privilege_type,notnull" json:"privilege_type"`
	CreatedAt     *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// NewPrivilege validates the triple and returns an unsaved privilege
func NewPrivilege(module Module, sub SubModule, action PrivilegeType) (*Privilege, error) {
	req := NewRequirement(module, sub, action)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &Privilege{
		ID:        uuid.New(),
		Module:    module,
		SubModule: sub,
		Type:      action,
	}, nil
}

// Requirement returns the triple held by this privilege
func (p Privilege) Requirement() Requirement {
	return NewRequirement(p.Module, p.SubModule, p.Type)
}

// Matches is an exact match on all three fields
func (p Privilege) Matches(req Requirement) bool {
	return p.Module == req.Module &&
		p.SubModule == req.SubModule &&
		p.Type == req.Type
}

// UserPrivilege links a user to a privilege it has been granted
type UserPrivilege struct {
	bun.BaseModel `bun:"table:user_privileges,alias:uprv"`
	UserID        uuid.UUID  `bun:"user_id,pk,type:uuid" json:"user_id"`
	PrivilegeID   uuid.UUID  `bun:"privilege_id,pk,type:uuid" json:"privilege_id"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// TokenPurpose records why a one time token was issued
type TokenPurpose = string

const (
	PurposeActivation    TokenPurpose = "activation"
	PurposePasswordReset TokenPurpose = "password_reset"
)

// OneTimeToken is a six digit code bound to a user. Rows are never
// deleted, a consumed token keeps its validated_at.
type OneTimeToken struct {
	bun.BaseModel `bun:"table:one_time_tokens,alias:ott"`
	ID            uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Code          string       `bun:"code,notnull" json:"-"`
	UserID        *uuid.UUID   `bun:"user_id,type:uuid" json:"user_id,omitempty"`
	Purpose       TokenPurpose `bun:"purpose,notnull" json:"purpose"`
	CreatedAt     time.Time    `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt     time.Time    `bun:"expires_at,notnull" json:"expires_at"`
	ValidatedAt   *time.Time   `bun:"validated_at,nullzero" json:"validated_at,omitempty"`
}

// IsUsed reports whether the token has already been consumed
func (t *OneTimeToken) IsUsed() bool {
	return t.ValidatedAt != nil
}

// IsExpired reports whether now is past the expiry instant
func (t *OneTimeToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
