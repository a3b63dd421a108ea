package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// LoginPayload is the credential pair submitted to the login route
type LoginPayload interface {
	GetIdentifier() string
	GetPassword() string
}

func RegisterAPIRoutes[T any](app router.Router[T], opts ...APIControllerOption) *APIController {
	controller := NewAPIController(opts...)
	protected := controller.Auther.ProtectedRoute()

	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("auth.login")
	app.Post(controller.Routes.Logout, controller.LogOut, protected).
		SetName("auth.logout")
	app.Get(controller.Routes.Me, controller.Me, protected).
		SetName("auth.me")

	app.Post(controller.Routes.Register, controller.RegistrationCreate).
		SetName("auth.register")
	app.Get(controller.Routes.CheckEmail, controller.CheckEmail).
		SetName("auth.check-email")
	app.Post(controller.Routes.Activate, controller.Activate).
		SetName("auth.activate")
	app.Post(controller.Routes.ActivationCode, controller.ActivationCodeRequest).
		SetName("auth.activation-code")

	app.Post(controller.Routes.Password, controller.PasswordChange, protected).
		SetName("auth.password")
	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).
		SetName("auth.password-reset")
	app.Post(controller.Routes.PasswordResetConfirm, controller.PasswordResetExecute).
		SetName("auth.password-reset.confirm")

	app.Get(controller.Routes.PrivilegeCheck, controller.PrivilegeCheck, protected).
		SetName("auth.privileges.check")
	app.Post(controller.Routes.PrivilegeGrants, controller.PrivilegeGrant, protected).
		SetName("auth.privileges.grant")
	app.Post(controller.Routes.PrivilegeRevoke, controller.PrivilegeRevoke, protected).
		SetName("auth.privileges.revoke")

	return controller
}

type APIControllerRoutes struct {
	Login                string
	Logout               string
	Me                   string
	Register             string
	CheckEmail           string
	Activate             string
	ActivationCode       string
	Password             string
	PasswordReset        string
	PasswordResetConfirm string
	PrivilegeCheck       string
	PrivilegeGrants      string
	PrivilegeRevoke      string
}

// APIController serves the JSON account and privilege endpoints
type APIController struct {
	Debug      bool
	Logger     Logger
	Routes     *APIControllerRoutes
	Auther     *RouteAuthenticator
	Authorizer *PrivilegeAuthorizer
	Privileges Privileges
	Users      Users
	ContextKey string

	Register          *RegisterUserHandler
	Activation        *ActivateAccountHandler
	ActivationRequest *RequestActivationCodeHandler
	ChangePassword    *ChangePasswordHandler
	ResetInitialize   *InitializePasswordResetHandler
	ResetFinalize     *FinalizePasswordResetHandler

	ErrorHandler router.ErrorHandler
}

type APIControllerOption func(*APIController) *APIController

// WithServices wires the controller to the account services backed by repo
func WithServices(repo RepositoryManager, tokens *OneTimeTokenService, notifier Notifier, sink ActivitySink, logger Logger) APIControllerOption {
	return func(c *APIController) *APIController {
		c.Privileges = repo.Privileges()
		c.Users = repo.Users()
		c.Register = NewRegisterUserHandler(repo, tokens).
			WithNotifier(notifier).WithActivitySink(sink).WithLogger(logger)
		c.Activation = NewActivateAccountHandler(repo, tokens).
			WithActivitySink(sink).WithLogger(logger)
		c.ActivationRequest = NewRequestActivationCodeHandler(repo, tokens).
			WithNotifier(notifier).WithActivitySink(sink).WithLogger(logger)
		c.ChangePassword = NewChangePasswordHandler(repo).
			WithActivitySink(sink).WithLogger(logger)
		c.ResetInitialize = NewInitializePasswordResetHandler(repo, tokens).
			WithNotifier(notifier).WithActivitySink(sink).WithLogger(logger)
		c.ResetFinalize = NewFinalizePasswordResetHandler(repo, tokens).
			WithActivitySink(sink).WithLogger(logger)
		return c
	}
}

func WithRouteAuthenticator(a *RouteAuthenticator) APIControllerOption {
	return func(c *APIController) *APIController {
		c.Auther = a
		return c
	}
}

func WithAuthorizer(a *PrivilegeAuthorizer) APIControllerOption {
	return func(c *APIController) *APIController {
		c.Authorizer = a
		return c
	}
}

func WithControllerLogger(logger Logger) APIControllerOption {
	return func(c *APIController) *APIController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

func WithDebug(debug bool) APIControllerOption {
	return func(c *APIController) *APIController {
		c.Debug = debug
		return c
	}
}

func NewAPIController(opts ...APIControllerOption) *APIController {
	c := &APIController{
		Logger:     defLogger{},
		ContextKey: DefaultContextKey,
		Routes: &APIControllerRoutes{
			Login:                "/auth/login",
			Logout:               "/auth/logout",
			Me:                   "/auth/me",
			Register:             "/auth/register",
			CheckEmail:           "/auth/check-email",
			Activate:             "/auth/activate",
			ActivationCode:       "/auth/activation-code",
			Password:             "/auth/password",
			PasswordReset:        "/auth/password-reset",
			PasswordResetConfirm: "/auth/password-reset/confirm",
			PrivilegeCheck:       "/auth/privileges/check",
			PrivilegeGrants:      "/auth/privileges/grants",
			PrivilegeRevoke:      "/auth/privileges/grants/revoke",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	if c.Register == nil || c.Privileges == nil {
		panic("Missing services in auth controller...")
	}

	if c.Authorizer == nil {
		c.Authorizer = NewPrivilegeAuthorizer(c.Privileges).WithLogger(c.Logger)
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.Auther.ErrorHandler
	}

	return c
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return r.Identifier
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// LoginResponse carries the issued bearer token
type LoginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *APIController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "failed to parse login payload"))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "invalid login payload"))
	}

	token, err := a.Auther.Login(ctx, payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	resp := LoginResponse{Token: token, TokenType: "Bearer"}
	if claims, err := a.Auther.tokens.Validate(ctx.Context(), token); err == nil {
		resp.ExpiresAt = claims.Expires()
	}

	return ctx.JSON(http.StatusOK, resp)
}

func (a *APIController) LogOut(ctx router.Context) error {
	if err := a.Auther.Logout(ctx); err != nil {
		return a.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"success": true})
}

// MeResponse describes the authenticated principal
type MeResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *APIController) Me(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.ContextKey)
	if !ok {
		return a.ErrorHandler(ctx, ErrJWTMissingOrMalformed)
	}

	return ctx.JSON(http.StatusOK, MeResponse{
		ID:        claims.UserID(),
		Email:     claims.Email(),
		Name:      claims.FullName(),
		Role:      claims.Role(),
		ExpiresAt: claims.Expires(),
	})
}

// RegistrationCreatePayload is the registration request body
type RegistrationCreatePayload struct {
	FirstName       string `form:"first_name" json:"first_name"`
	LastName        string `form:"last_name" json:"last_name"`
	Email           string `form:"email" json:"email"`
	Phone           string `form:"phone_number" json:"phone_number"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// RegistrationResponse is returned after a successful registration
type RegistrationResponse struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	ActivationExpiresAt time.Time `json:"activation_expires_at"`
}

func (a *APIController) RegistrationCreate(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "failed to parse registration payload"))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "invalid registration payload"))
	}

	var res *RegisterUserResponse
	req := RegisterUserMessage{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
		Phone:     payload.Phone,
		Password:  payload.Password,
		OnResponse: func(resp *RegisterUserResponse) {
			res = resp
		},
	}

	err := a.Register.Execute(ctx.Context(), req)
	if res == nil {
		if err == nil {
			err = ErrIdentityNotFound
		}
		return a.ErrorHandler(ctx, err)
	}

	if err != nil {
		// account exists, only the notification failed
		a.Logger.Warn("registration notification failed for %s: %v", res.User.Email, err)
	}

	if a.Debug {
		a.Logger.Debug("registered user: %s", print.MaybePrettyJSON(res.User))
	}

	return ctx.JSON(http.StatusCreated, RegistrationResponse{
		ID:                  res.User.ID.String(),
		Email:               res.User.Email,
		ActivationExpiresAt: res.Token.ExpiresAt,
	})
}

// CheckEmailResponse tells whether an email is already registered
type CheckEmailResponse struct {
	Email  string `json:"email"`
	Exists bool   `json:"exists"`
}

func (a *APIController) CheckEmail(ctx router.Context) error {
	email := NormalizeEmail(ctx.Query("email", ""))
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return a.ErrorHandler(ctx, validationError(validation.Errors{"email": err}, "invalid email"))
	}

	exists, err := a.Users.ExistsByEmail(ctx.Context(), email)
	if err != nil {
		return a.ErrorHandler(ctx, storeError(err, "failed to check email"))
	}

	return ctx.JSON(http.StatusOK, CheckEmailResponse{Email: email, Exists: exists})
}

// CodePayload carries a one time code
type CodePayload struct {
	Code string `form:"code" json:"code"`
}

func (a *APIController) Activate(ctx router.Context) error {
	payload := new(CodePayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "failed to parse activation payload"))
	}

	if err := a.Activation.Execute(ctx.Context(), ActivateAccountMessage{Code: payload.Code}); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"success": true})
}

// EmailPayload carries an account email
type EmailPayload struct {
	Email string `form:"email" json:"email"`
}

func (a *APIController) ActivationCodeRequest(ctx router.Context) error {
	payload := new(EmailPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "failed to parse activation code payload"))
	}

	if err := a.ActivationRequest.Execute(ctx.Context(), RequestActivationCodeMessage{Email: payload.Email}); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusAccepted, map[string]any{"success": true})
}

// PasswordChangePayload is the change password request body
type PasswordChangePayload struct {
	CurrentPassword string `form:"current_password" json:"current_password"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (r PasswordChangePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(r.Password))),
	)
}

func (a *APIController) PasswordChange(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.ContextKey)
	if !ok {
		return a.ErrorHandler(ctx, ErrJWTMissingOrMalformed)
	}

	payload := new(PasswordChangePayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "failed to parse password payload"))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "invalid password payload"))
	}

	err := a.ChangePassword.Execute(ctx.Context(), ChangePasswordMessage{
		UserID:          claims.UserID(),
		CurrentPassword: payload.CurrentPassword,
		NewPassword:     payload.Password,
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"success": true})
}

func (a *APIController) PasswordResetPost(ctx router.Context) error {
	payload := new(EmailPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "failed to parse password reset payload"))
	}

	if err := a.ResetInitialize.Execute(ctx.Context(), InitializePasswordResetMessage{Email: payload.Email}); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	// same answer for known and unknown emails
	return ctx.JSON(http.StatusAccepted, map[string]any{"success": true})
}

// PasswordResetVerifyPayload holds values for password reset
type PasswordResetVerifyPayload struct {
	Code            string `form:"code" json:"code"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordResetVerifyPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.Password, validation.Required),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *APIController) PasswordResetExecute(ctx router.Context) error {
	payload := new(PasswordResetVerifyPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "failed to parse password reset payload"))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "invalid password reset payload"))
	}

	err := a.ResetFinalize.Execute(ctx.Context(), FinalizePasswordResetMessage{
		Code:     payload.Code,
		Password: payload.Password,
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"success": true})
}

// PrivilegeCheckResponse reports the decision for the requested authorities
type PrivilegeCheckResponse struct {
	Allowed     bool     `json:"allowed"`
	Authorities []string `json:"authorities"`
}

// PrivilegeCheck answers whether the caller holds any of the authorities
// passed in the comma separated "authority" query parameter
func (a *APIController) PrivilegeCheck(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.ContextKey)
	if !ok {
		return a.ErrorHandler(ctx, ErrJWTMissingOrMalformed)
	}

	authorities := splitAuthorities(ctx.Query("authority", ""))
	reqs := make([]Requirement, 0, len(authorities))
	for _, authority := range authorities {
		req, err := ParseRequirement(authority)
		if err != nil {
			return a.ErrorHandler(ctx, err)
		}
		reqs = append(reqs, req)
	}

	return ctx.JSON(http.StatusOK, PrivilegeCheckResponse{
		Allowed:     a.Authorizer.AuthorizeAny(ctx.Context(), claims, reqs...),
		Authorities: authorities,
	})
}

// PrivilegeGrantPayload names a user and a privilege
type PrivilegeGrantPayload struct {
	UserID    string `json:"user_id"`
	Authority string `json:"authority"`
}

func (r PrivilegeGrantPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, is.UUID),
		validation.Field(&r.Authority, validation.Required),
	)
}

func (a *APIController) PrivilegeGrant(ctx router.Context) error {
	return a.changeGrant(ctx, PrivilegeWrite, func(c context.Context, id uuid.UUID, req Requirement) error {
		return a.Privileges.Grant(c, id, req)
	})
}

func (a *APIController) PrivilegeRevoke(ctx router.Context) error {
	return a.changeGrant(ctx, PrivilegeDelete, func(c context.Context, id uuid.UUID, req Requirement) error {
		return a.Privileges.RevokeGrant(c, id, req)
	})
}

// changeGrant requires USERS:ADMINS:<action> from the caller
func (a *APIController) changeGrant(ctx router.Context, action PrivilegeType, fn func(context.Context, uuid.UUID, Requirement) error) error {
	claims, ok := GetRouterClaims(ctx, a.ContextKey)
	if !ok {
		return a.ErrorHandler(ctx, ErrJWTMissingOrMalformed)
	}

	if err := a.Authorizer.Require(ctx.Context(), claims, NewRequirement(ModuleUsers, SubModuleAdmins, action)); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(PrivilegeGrantPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "failed to parse privilege payload"))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, validationError(err, "invalid privilege payload"))
	}

	req, err := ParseRequirement(payload.Authority)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := fn(ctx.Context(), uuid.MustParse(payload.UserID), req); err != nil {
		return a.ErrorHandler(ctx, storeError(err, "failed to update privilege grant"))
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"user_id":   payload.UserID,
		"authority": req.Authority(),
	})
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func splitAuthorities(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
