package auth

import (
	"context"
	"reflect"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// PrivilegeAuthorizer decides whether a principal holds a privilege. It is
// deny by default and reads grants from the store on every check, so a
// revoked grant takes effect on the next request.
type PrivilegeAuthorizer struct {
	provider PrivilegeProvider
	timeout  time.Duration
	activity ActivitySink
	logger   Logger
}

// NewPrivilegeAuthorizer creates an authorizer backed by provider
func NewPrivilegeAuthorizer(provider PrivilegeProvider) *PrivilegeAuthorizer {
	return &PrivilegeAuthorizer{
		provider: provider,
		timeout:  DefaultStoreTimeout,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithLogger overrides the logger used by the authorizer.
func (a *PrivilegeAuthorizer) WithLogger(logger Logger) *PrivilegeAuthorizer {
	a.logger = normalizeLogger(logger)
	return a
}

// WithActivitySink sets the sink used to emit denied checks.
func (a *PrivilegeAuthorizer) WithActivitySink(sink ActivitySink) *PrivilegeAuthorizer {
	a.activity = normalizeActivitySink(sink)
	return a
}

// WithStoreTimeout bounds the grant lookup
func (a *PrivilegeAuthorizer) WithStoreTimeout(d time.Duration) *PrivilegeAuthorizer {
	if d > 0 {
		a.timeout = d
	}
	return a
}

// Authorize reports whether identity holds exactly (module, sub, action).
// There is no implication between actions or levels.
func (a *PrivilegeAuthorizer) Authorize(ctx context.Context, identity Identity, module Module, sub SubModule, action PrivilegeType) bool {
	return a.AuthorizeAny(ctx, identity, NewRequirement(module, sub, action))
}

// AuthorizeAny grants access when identity holds at least one of reqs
func (a *PrivilegeAuthorizer) AuthorizeAny(ctx context.Context, identity Identity, reqs ...Requirement) bool {
	if len(reqs) == 0 {
		return false
	}

	if isNilIdentity(identity) {
		a.logger.Debug("authorization denied: no principal")
		return false
	}

	userID := strings.TrimSpace(identity.ID())
	if userID == "" {
		a.logger.Debug("authorization denied: principal has no id")
		return false
	}

	if a.provider == nil {
		a.logger.Error("authorization denied: no privilege provider configured")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	grants, err := a.provider.FindForUser(ctx, userID)
	if err != nil {
		a.logger.Error("authorization denied: failed to load privileges for %s: %v", userID, err)
		return false
	}

	for _, req := range reqs {
		for _, g := range grants {
			if g.Matches(req) {
				return true
			}
		}
	}

	a.recordDenied(ctx, identity, reqs)

	return false
}

// Require returns ErrPrivilegeDenied unless identity holds one of reqs
func (a *PrivilegeAuthorizer) Require(ctx context.Context, identity Identity, reqs ...Requirement) error {
	if a.AuthorizeAny(ctx, identity, reqs...) {
		return nil
	}
	return ErrPrivilegeDenied
}

// RequireAuthorities parses authority strings such as USERS:OWNERS:READ
// and checks them with any-of semantics.
func (a *PrivilegeAuthorizer) RequireAuthorities(ctx context.Context, identity Identity, authorities ...string) error {
	reqs := make([]Requirement, 0, len(authorities))
	for _, authority := range authorities {
		req, err := ParseRequirement(authority)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return richErr
			}
			return err
		}
		reqs = append(reqs, req)
	}
	return a.Require(ctx, identity, reqs...)
}

func (a *PrivilegeAuthorizer) recordDenied(ctx context.Context, identity Identity, reqs []Requirement) {
	authorities := make([]string, 0, len(reqs))
	for _, r := range reqs {
		authorities = append(authorities, r.Authority())
	}

	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType: ActivityEventPrivilegeDenied,
		Actor:     actorFromIdentity(identity),
		UserID:    identity.ID(),
		Metadata: map[string]any{
			"required": authorities,
		},
	})
}

func isNilIdentity(identity Identity) bool {
	if identity == nil {
		return true
	}
	v := reflect.ValueOf(identity)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}
