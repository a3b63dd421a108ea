// Package admin serves the user management routes. Each route is guarded
// by USERS privileges, a caller passes when it holds any of the
// sub modules listed for the route.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-auth-privilege"
	"github.com/goliatone/go-auth-privilege/middleware/guard"
)

// Routes holds the user management paths
type Routes struct {
	Create      string
	List        string
	Names       string
	ByRole      string
	ByID        string
	Count       string
	CountByRole string
	Status      string
	Delete      string
}

// UserController manages accounts on behalf of privileged callers
type UserController struct {
	Logger       auth.Logger
	Routes       *Routes
	Repo         auth.RepositoryManager
	Activity     auth.ActivitySink
	Guard        guard.Config
	PhoneRegion  string
	ErrorHandler router.ErrorHandler
}

type Option func(*UserController) *UserController

func WithLogger(logger auth.Logger) Option {
	return func(c *UserController) *UserController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithActivitySink(sink auth.ActivitySink) Option {
	return func(c *UserController) *UserController {
		c.Activity = sink
		return c
	}
}

func WithErrorHandler(h router.ErrorHandler) Option {
	return func(c *UserController) *UserController {
		c.ErrorHandler = h
		return c
	}
}

// WithPhoneRegion sets the region for numbers given without a country code
func WithPhoneRegion(region string) Option {
	return func(c *UserController) *UserController {
		if region != "" {
			c.PhoneRegion = strings.ToUpper(region)
		}
		return c
	}
}

// NewUserController panics when the guard has no authorizer
func NewUserController(repo auth.RepositoryManager, cfg guard.Config, opts ...Option) *UserController {
	if repo == nil {
		panic("AUTH: user admin configuration: repository is required.")
	}
	if cfg.Authorizer == nil {
		panic("AUTH: user admin configuration: Authorizer is required.")
	}

	c := &UserController{
		Logger:      nopLogger{},
		Repo:        repo,
		Guard:       cfg,
		PhoneRegion: auth.DefaultPhoneRegion,
		Routes: &Routes{
			Create:      "/users",
			List:        "/users",
			Names:       "/users/names",
			ByRole:      "/users/by-role",
			ByID:        "/users/by-id",
			Count:       "/users/count",
			CountByRole: "/users/count-by-role",
			Status:      "/users/status",
			Delete:      "/users",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = auth.WriteError
	}
	if c.Guard.ErrorHandler == nil {
		c.Guard.ErrorHandler = c.ErrorHandler
	}
	if c.Guard.ContextKey == "" {
		c.Guard.ContextKey = auth.DefaultContextKey
	}

	return c
}

// anyOf builds USERS:<sub>:<action> for each sub module
func anyOf(action auth.PrivilegeType, subs ...auth.SubModule) []auth.Requirement {
	out := make([]auth.Requirement, 0, len(subs))
	for _, sub := range subs {
		out = append(out, auth.NewRequirement(auth.ModuleUsers, sub, action))
	}
	return out
}

var (
	userManagers = []auth.SubModule{
		auth.SubModuleOwners,
		auth.SubModuleTenants,
		auth.SubModuleAdmins,
		auth.SubModuleSubAdmins,
	}
	userCreators = []auth.SubModule{
		auth.SubModuleOwners,
		auth.SubModuleAdmins,
		auth.SubModuleSubAdmins,
	}
	adminsOnly = []auth.SubModule{auth.SubModuleAdmins}
)

var (
	errRoleRequired = errors.New("cannot be blank")
	errBadPage      = errors.New("must be a non negative integer")
	errBadSize      = fmt.Errorf("must be between 1 and %d", auth.MaxUserPageSize)
)

// Route pairs a handler with the privileges guarding it, any one of
// Requires lets the caller through
type Route struct {
	Method   router.HTTPMethod
	Path     string
	Name     string
	Handler  router.HandlerFunc
	Requires []auth.Requirement
}

// RouteTable lists the user management routes
func (c *UserController) RouteTable() []Route {
	return []Route{
		{router.POST, c.Routes.Create, "users.create", c.Create, anyOf(auth.PrivilegeWrite, userCreators...)},
		{router.GET, c.Routes.List, "users.list", c.List, anyOf(auth.PrivilegeRead, adminsOnly...)},
		{router.GET, c.Routes.Names, "users.names", c.Names, anyOf(auth.PrivilegeRead, userManagers...)},
		{router.GET, c.Routes.ByRole, "users.by-role", c.ByRole, anyOf(auth.PrivilegeRead, userManagers...)},
		{router.GET, c.Routes.ByID, "users.by-id", c.ByID, anyOf(auth.PrivilegeRead, userManagers...)},
		{router.GET, c.Routes.Count, "users.count", c.Count, anyOf(auth.PrivilegeRead, userManagers...)},
		{router.GET, c.Routes.CountByRole, "users.count-by-role", c.CountByRole, anyOf(auth.PrivilegeRead, adminsOnly...)},
		{router.PUT, c.Routes.Status, "users.status", c.SetStatus, anyOf(auth.PrivilegeUpdate, userManagers...)},
		{router.DELETE, c.Routes.Delete, "users.delete", c.Delete, anyOf(auth.PrivilegeDelete, userManagers...)},
	}
}

// Guarded wraps the route handler with its privilege guard
func (c *UserController) Guarded(r Route) router.HandlerFunc {
	return guard.RequirePrivilege(c.Guard, r.Requires...)(r.Handler)
}

// RegisterUserRoutes mounts the routes behind protected, the bearer
// middleware, followed by the privilege guard of each route
func RegisterUserRoutes[T any](app router.Router[T], protected router.MiddlewareFunc, ctrl *UserController) *UserController {
	for _, r := range ctrl.RouteTable() {
		app.Handle(r.Method, r.Path, r.Handler, protected, guard.RequirePrivilege(ctrl.Guard, r.Requires...)).
			SetName(r.Name)
	}
	return ctrl
}

// UserResponse is the public view of an account
type UserResponse struct {
	ID        string     `json:"id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone_number,omitempty"`
	Role      string     `json:"role"`
	Enabled   bool       `json:"enabled"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func toResponse(u *auth.User) UserResponse {
	return UserResponse{
		ID:        u.ID.String(),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Phone:     u.Phone,
		Role:      u.Role,
		Enabled:   u.Enabled,
		CreatedAt: u.CreatedAt,
	}
}

// UserName is an entry of the names dropdown
type UserName struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Page is one page of a user listing
type Page struct {
	Items []UserResponse `json:"items"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}

// CreateUserPayload is the body of the create route
type CreateUserPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone_number"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	Enabled   bool   `json:"enabled"`
}

func (p CreateUserPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

func (c *UserController) Create(ctx router.Context) error {
	payload := new(CreateUserPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, invalid(err, "failed to parse user payload"))
	}

	if err := payload.Validate(); err != nil {
		return c.ErrorHandler(ctx, invalid(err, "invalid user payload"))
	}

	role, err := parseRole(payload.Role, auth.RoleUser)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if err := auth.ValidatePassword(payload.Password); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	phone, err := auth.NormalizePhone(payload.Phone, c.PhoneRegion)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	hash, err := auth.HashPassword(payload.Password)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	user := &auth.User{
		Role:         role,
		FirstName:    strings.TrimSpace(payload.FirstName),
		LastName:     strings.TrimSpace(payload.LastName),
		Email:        auth.NormalizeEmail(payload.Email),
		Phone:        phone,
		PasswordHash: hash,
		Enabled:      payload.Enabled,
	}

	var created *auth.User
	err = c.Repo.RunInTx(ctx.Context(), nil, func(txCtx context.Context, tx bun.Tx) error {
		exists, err := c.Repo.Users().ExistsByEmailTx(txCtx, tx, user.Email)
		if err != nil {
			return err
		}
		if exists {
			return auth.ErrEmailAlreadyExists
		}
		created, err = c.Repo.Users().CreateTx(txCtx, tx, user)
		return err
	})
	if err != nil {
		return c.ErrorHandler(ctx, auth.StoreError(err, "could not create user"))
	}

	c.Logger.Info("user %s created by %s", created.Email, callerID(ctx, c.Guard.ContextKey))
	c.record(ctx, auth.ActivityEventUserCreated, created.ID, map[string]any{
		"email": created.Email,
		"role":  created.Role,
	})

	return ctx.JSON(http.StatusCreated, toResponse(created))
}

func (c *UserController) List(ctx router.Context) error {
	return c.page(ctx, "")
}

func (c *UserController) ByRole(ctx router.Context) error {
	role, err := parseRole(ctx.Query("role", ""), "")
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	if role == "" {
		return c.ErrorHandler(ctx, invalid(validation.Errors{"role": errRoleRequired}, "invalid role"))
	}
	return c.page(ctx, role)
}

func (c *UserController) page(ctx router.Context, role string) error {
	page, size, err := pagination(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	users, total, err := c.Repo.Users().List(ctx.Context(), auth.ListUsersOptions{
		Role:   role,
		Limit:  size,
		Offset: page * size,
	})
	if err != nil {
		return c.ErrorHandler(ctx, auth.StoreError(err, "failed to list users"))
	}

	items := make([]UserResponse, 0, len(users))
	for _, u := range users {
		items = append(items, toResponse(u))
	}

	return ctx.JSON(http.StatusOK, Page{Items: items, Total: total, Page: page, Size: size})
}

func (c *UserController) Names(ctx router.Context) error {
	users, _, err := c.Repo.Users().List(ctx.Context(), auth.ListUsersOptions{Limit: auth.MaxUserPageSize})
	if err != nil {
		return c.ErrorHandler(ctx, auth.StoreError(err, "failed to list users"))
	}

	out := make([]UserName, 0, len(users))
	for _, u := range users {
		out = append(out, UserName{ID: u.ID.String(), FirstName: u.FirstName, LastName: u.LastName})
	}
	return ctx.JSON(http.StatusOK, out)
}

func (c *UserController) ByID(ctx router.Context) error {
	id, err := parseID(ctx.Query("id", ""))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	user, err := c.Repo.Users().GetByID(ctx.Context(), id.String())
	if err != nil {
		return c.ErrorHandler(ctx, notFound(err, id))
	}

	return ctx.JSON(http.StatusOK, toResponse(user))
}

func (c *UserController) Count(ctx router.Context) error {
	n, err := c.Repo.Users().Count(ctx.Context(), "")
	if err != nil {
		return c.ErrorHandler(ctx, auth.StoreError(err, "failed to count users"))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"user_count": n})
}

func (c *UserController) CountByRole(ctx router.Context) error {
	role, err := parseRole(ctx.Query("role", ""), "")
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	if role == "" {
		return c.ErrorHandler(ctx, invalid(validation.Errors{"role": errRoleRequired}, "invalid role"))
	}

	n, err := c.Repo.Users().Count(ctx.Context(), role)
	if err != nil {
		return c.ErrorHandler(ctx, auth.StoreError(err, "failed to count users"))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"role": role, "user_count": n})
}

// StatusPayload enables or disables an account
type StatusPayload struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

func (p StatusPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required, is.UUID),
	)
}

func (c *UserController) SetStatus(ctx router.Context) error {
	payload := new(StatusPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, invalid(err, "failed to parse status payload"))
	}

	if err := payload.Validate(); err != nil {
		return c.ErrorHandler(ctx, invalid(err, "invalid status payload"))
	}

	id := uuid.MustParse(payload.ID)
	err := c.Repo.RunInTx(ctx.Context(), nil, func(txCtx context.Context, tx bun.Tx) error {
		return c.Repo.Users().SetEnabledTx(txCtx, tx, id, payload.Enabled)
	})
	if err != nil {
		return c.ErrorHandler(ctx, notFound(err, id))
	}

	c.record(ctx, auth.ActivityEventUserStatusChanged, id, map[string]any{"enabled": payload.Enabled})

	return ctx.JSON(http.StatusOK, map[string]any{
		"success": true,
		"id":      id.String(),
		"enabled": payload.Enabled,
	})
}

func (c *UserController) Delete(ctx router.Context) error {
	id, err := parseID(ctx.Query("id", ""))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	err = c.Repo.RunInTx(ctx.Context(), nil, func(txCtx context.Context, tx bun.Tx) error {
		return c.Repo.Users().DeleteTx(txCtx, tx, id)
	})
	if err != nil {
		return c.ErrorHandler(ctx, notFound(err, id))
	}

	c.Logger.Info("user %s deleted by %s", id, callerID(ctx, c.Guard.ContextKey))
	c.record(ctx, auth.ActivityEventUserDeleted, id, nil)

	return ctx.JSON(http.StatusOK, map[string]any{"success": true, "id": id.String()})
}

func (c *UserController) record(ctx router.Context, kind auth.ActivityEventType, userID uuid.UUID, meta map[string]any) {
	if c.Activity == nil {
		return
	}

	evt := auth.ActivityEvent{
		EventType:  kind,
		Actor:      auth.ActorRef{ID: callerID(ctx, c.Guard.ContextKey), Type: "user"},
		UserID:     userID.String(),
		Metadata:   meta,
		OccurredAt: time.Now().UTC(),
	}
	if err := c.Activity.Record(ctx.Context(), evt); err != nil {
		c.Logger.Warn("failed to record %s: %v", kind, err)
	}
}

func callerID(ctx router.Context, key string) string {
	if claims, ok := auth.GetRouterClaims(ctx, key); ok {
		return claims.UserID()
	}
	return "unknown"
}

func pagination(ctx router.Context) (int, int, error) {
	page, err := queryInt(ctx, "page", 0)
	if err != nil || page < 0 {
		return 0, 0, invalid(validation.Errors{"page": errBadPage}, "invalid page")
	}

	size, err := queryInt(ctx, "size", auth.DefaultUserPageSize)
	if err != nil || size <= 0 || size > auth.MaxUserPageSize {
		return 0, 0, invalid(validation.Errors{"size": errBadSize}, "invalid page size")
	}

	return page, size, nil
}

func queryInt(ctx router.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(ctx.Query(key, ""))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func parseRole(raw, def string) (string, error) {
	role := strings.ToUpper(strings.TrimSpace(raw))
	if role == "" {
		return def, nil
	}
	if !auth.IsValidRole(role) {
		return "", goerrors.New("unknown role", goerrors.CategoryValidation).
			WithTextCode(auth.TextCodeInvalidRole).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"role": raw})
	}
	return role, nil
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, invalid(validation.Errors{"id": err}, "invalid user id")
	}
	return id, nil
}

func notFound(err error, id uuid.UUID) error {
	if auth.IsNotFoundError(err) {
		return goerrors.New("user not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithMetadata(map[string]any{"id": id.String()})
	}
	return auth.StoreError(err, "user store failure")
}

func invalid(err error, msg string) error {
	fields := map[string]any{}
	if errs, ok := err.(validation.Errors); ok {
		for field, ferr := range errs {
			fields[field] = ferr.Error()
		}
	} else {
		fields["error"] = err.Error()
	}

	return goerrors.New(msg, goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(fields)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
