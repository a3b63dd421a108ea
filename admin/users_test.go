package admin_test

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	auth "github.com/goliatone/go-auth-privilege"
	"github.com/goliatone/go-auth-privilege/admin"
	"github.com/goliatone/go-auth-privilege/middleware/guard"
)

const password = "Secr3t!pass"

type fixture struct {
	db     *bun.DB
	repo   auth.RepositoryManager
	ctrl   *admin.UserController
	events []auth.ActivityEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	_, err = auth.Migrate(ctx, db)
	require.NoError(t, err)

	repo := auth.NewRepositoryManager(db)
	_, err = repo.Privileges().Seed(ctx)
	require.NoError(t, err)

	f := &fixture{db: db, repo: repo}
	sink := auth.ActivitySinkFunc(func(ctx context.Context, evt auth.ActivityEvent) error {
		f.events = append(f.events, evt)
		return nil
	})

	f.ctrl = admin.NewUserController(repo,
		guard.Config{Authorizer: auth.NewPrivilegeAuthorizer(repo.Privileges())},
		admin.WithActivitySink(sink),
	)
	return f
}

func (f *fixture) user(t *testing.T, email, role string, grants ...string) *auth.User {
	t.Helper()
	ctx := context.Background()

	created, err := f.repo.Users().CreateTx(ctx, f.db, &auth.User{
		FirstName:    "Test",
		LastName:     email,
		Email:        email,
		Role:         role,
		PasswordHash: "hash",
		Enabled:      true,
	})
	require.NoError(t, err)

	for _, authority := range grants {
		require.NoError(t, f.repo.Privileges().Grant(ctx, created.ID, auth.MustParseRequirement(authority)))
	}
	return created
}

func (f *fixture) route(t *testing.T, name string) admin.Route {
	t.Helper()
	for _, r := range f.ctrl.RouteTable() {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no route named %s", name)
	return admin.Route{}
}

func request(caller *auth.User) *router.MockContext {
	ctx := router.NewMockContext()
	if caller != nil {
		ctx.LocalsMock[auth.DefaultContextKey] = &auth.JWTClaims{UID: caller.ID.String()}
	}
	ctx.On("Context").Return(context.Background())
	return ctx
}

func bindPayload[T any](ctx *router.MockContext, fill func(*T)) {
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		fill(args.Get(0).(*T))
	}).Return(nil)
}

func TestUserRoutes_Guards(t *testing.T) {
	f := newFixture(t)

	owner := f.user(t, "owner@example.com", auth.RoleUser, "USERS:OWNERS:WRITE", "USERS:OWNERS:READ")
	tenant := f.user(t, "tenant@example.com", auth.RoleUser, "USERS:TENANTS:READ", "USERS:TENANTS:WRITE")
	adminUser := f.user(t, "admin@example.com", auth.RoleAdmin, "USERS:ADMINS:READ")
	nobody := f.user(t, "nobody@example.com", auth.RoleUser)

	tests := []struct {
		name    string
		route   string
		caller  *auth.User
		allowed bool
	}{
		{name: "tenant counts users", route: "users.count", caller: tenant, allowed: true},
		{name: "owner counts users", route: "users.count", caller: owner, allowed: true},
		{name: "caller without grants cannot count", route: "users.count", caller: nobody},
		{name: "anonymous caller cannot count", route: "users.count", caller: nil},
		{name: "admin counts by role", route: "users.count-by-role", caller: adminUser, allowed: true},
		{name: "tenant cannot count by role", route: "users.count-by-role", caller: tenant},
		{name: "admin lists users", route: "users.list", caller: adminUser, allowed: true},
		{name: "owner cannot list every user", route: "users.list", caller: owner},
		{name: "tenant reads names", route: "users.names", caller: tenant, allowed: true},
		{name: "tenant write does not cover create", route: "users.create", caller: tenant},
		{name: "read does not cover delete", route: "users.delete", caller: adminUser},
		{name: "read does not cover status", route: "users.status", caller: tenant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := f.route(t, tt.route)
			ctx := request(tt.caller)
			ctx.QueriesM["role"] = "USER"

			if tt.allowed {
				ctx.On("JSON", http.StatusOK, mock.Anything).Return(nil)
			} else {
				status := http.StatusForbidden
				if tt.caller == nil {
					status = http.StatusBadRequest
				}
				ctx.On("JSON", status, mock.Anything).Return(nil)
			}

			require.NoError(t, f.ctrl.Guarded(r)(ctx))
			ctx.AssertExpectations(t)
		})
	}
}

func TestUserController_Create(t *testing.T) {
	f := newFixture(t)
	creator := f.user(t, "sub-admin@example.com", auth.RoleUser, "USERS:SUB_ADMINS:WRITE")
	create := f.ctrl.Guarded(f.route(t, "users.create"))

	payload := func(p *admin.CreateUserPayload) {
		p.FirstName = "Jane"
		p.LastName = "Doe"
		p.Email = " Jane@Example.com "
		p.Password = password
		p.Role = "admin"
		p.Enabled = true
	}

	t.Run("creates the account", func(t *testing.T) {
		ctx := request(creator)
		bindPayload(ctx, payload)
		ctx.On("JSON", http.StatusCreated, mock.MatchedBy(func(resp admin.UserResponse) bool {
			return resp.Email == "jane@example.com" && resp.Role == auth.RoleAdmin && resp.Enabled
		})).Return(nil)

		require.NoError(t, create(ctx))
		ctx.AssertExpectations(t)

		user, err := f.repo.Users().GetByEmail(context.Background(), "jane@example.com")
		require.NoError(t, err)
		assert.NoError(t, auth.ComparePasswordAndHash(password, user.PasswordHash))

		require.NotEmpty(t, f.events)
		last := f.events[len(f.events)-1]
		assert.Equal(t, auth.ActivityEventUserCreated, last.EventType)
		assert.Equal(t, creator.ID.String(), last.Actor.ID)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		ctx := request(creator)
		bindPayload(ctx, payload)
		ctx.On("JSON", http.StatusConflict, mock.Anything).Return(nil)

		require.NoError(t, create(ctx))
		ctx.AssertExpectations(t)
	})

	t.Run("unknown role is rejected", func(t *testing.T) {
		ctx := request(creator)
		bindPayload(ctx, func(p *admin.CreateUserPayload) {
			payload(p)
			p.Email = "other@example.com"
			p.Role = "ROOT"
		})
		ctx.On("JSON", http.StatusBadRequest, mock.Anything).Return(nil)

		require.NoError(t, create(ctx))
		ctx.AssertExpectations(t)
	})

	t.Run("weak password is rejected", func(t *testing.T) {
		ctx := request(creator)
		bindPayload(ctx, func(p *admin.CreateUserPayload) {
			payload(p)
			p.Email = "weak@example.com"
			p.Password = "password"
		})
		ctx.On("JSON", http.StatusBadRequest, mock.Anything).Return(nil)

		require.NoError(t, create(ctx))
		ctx.AssertExpectations(t)
	})
}

func TestUserController_ByRolePages(t *testing.T) {
	f := newFixture(t)
	reader := f.user(t, "reader@example.com", auth.RoleAdmin, "USERS:OWNERS:READ")
	for i := 0; i < 3; i++ {
		f.user(t, fmt.Sprintf("member-%d@example.com", i), auth.RoleUser)
	}
	byRole := f.ctrl.Guarded(f.route(t, "users.by-role"))

	ctx := request(reader)
	ctx.QueriesM["role"] = "user"
	ctx.QueriesM["page"] = "1"
	ctx.QueriesM["size"] = "2"
	ctx.On("JSON", http.StatusOK, mock.MatchedBy(func(p admin.Page) bool {
		return p.Total == 3 && len(p.Items) == 1 && p.Page == 1 && p.Size == 2 &&
			p.Items[0].Role == auth.RoleUser
	})).Return(nil)

	require.NoError(t, byRole(ctx))
	ctx.AssertExpectations(t)

	t.Run("bad page size", func(t *testing.T) {
		ctx := request(reader)
		ctx.QueriesM["role"] = "USER"
		ctx.QueriesM["size"] = "0"
		ctx.On("JSON", http.StatusBadRequest, mock.Anything).Return(nil)

		require.NoError(t, byRole(ctx))
		ctx.AssertExpectations(t)
	})
}

func TestUserController_StatusAndDelete(t *testing.T) {
	bg := context.Background()
	f := newFixture(t)
	manager := f.user(t, "manager@example.com", auth.RoleAdmin,
		"USERS:ADMINS:UPDATE", "USERS:TENANTS:DELETE", "USERS:ADMINS:READ")
	member := f.user(t, "member@example.com", auth.RoleUser, "MANAGEMENT:UNITS:READ")

	t.Run("disables the account", func(t *testing.T) {
		ctx := request(manager)
		bindPayload(ctx, func(p *admin.StatusPayload) {
			p.ID = member.ID.String()
			p.Enabled = false
		})
		ctx.On("JSON", http.StatusOK, mock.Anything).Return(nil)

		require.NoError(t, f.ctrl.Guarded(f.route(t, "users.status"))(ctx))
		ctx.AssertExpectations(t)

		got, err := f.repo.Users().GetByID(bg, member.ID.String())
		require.NoError(t, err)
		assert.False(t, got.Enabled)
	})

	t.Run("deletes the account and its grants", func(t *testing.T) {
		ctx := request(manager)
		ctx.QueriesM["id"] = member.ID.String()
		ctx.On("JSON", http.StatusOK, mock.Anything).Return(nil)

		require.NoError(t, f.ctrl.Guarded(f.route(t, "users.delete"))(ctx))
		ctx.AssertExpectations(t)

		_, err := f.repo.Users().GetByID(bg, member.ID.String())
		assert.True(t, auth.IsNotFoundError(err))

		grants, err := f.repo.Privileges().FindForUser(bg, member.ID.String())
		require.NoError(t, err)
		assert.Empty(t, grants)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		ctx := request(manager)
		ctx.QueriesM["id"] = uuid.NewString()
		ctx.On("JSON", http.StatusNotFound, mock.Anything).Return(nil)

		require.NoError(t, f.ctrl.Guarded(f.route(t, "users.delete"))(ctx))
		ctx.AssertExpectations(t)
	})

	t.Run("by id reads a user", func(t *testing.T) {
		ctx := request(manager)
		ctx.QueriesM["id"] = manager.ID.String()
		ctx.On("JSON", http.StatusOK, mock.MatchedBy(func(resp admin.UserResponse) bool {
			return resp.ID == manager.ID.String() && resp.Email == "manager@example.com"
		})).Return(nil)

		require.NoError(t, f.ctrl.Guarded(f.route(t, "users.by-id"))(ctx))
		ctx.AssertExpectations(t)
	})
}
