package auth

import (
	"fmt"
	"net/http"

	"github.com/goliatone/go-auth-privilege/middleware/jwtware"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteAuthenticator binds an Authenticator to bearer token HTTP routes
type RouteAuthenticator struct {
	auth             Authenticator
	tokens           TokenService
	cfg              Config
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

func NewHTTPAuthenticator(auther Authenticator, tokens TokenService, cfg Config) *RouteAuthenticator {
	a := &RouteAuthenticator{
		cfg:    cfg,
		auth:   auther,
		tokens: tokens,
		Logger: defLogger{},
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a
}

// WithLogger overrides the logger used by the authenticator.
func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	a.Logger = normalizeLogger(logger)
	return a
}

// ProtectedRoute rejects requests without a valid, unrevoked bearer token
func (a *RouteAuthenticator) ProtectedRoute(listeners ...ValidationListener) router.MiddlewareFunc {
	return ProtectedRoute(a.cfg, a.tokens, a.MakeClientRouteAuthErrorHandler(), listeners...)
}

// Login verifies the credentials and returns a signed token
func (a *RouteAuthenticator) Login(ctx router.Context, payload LoginPayload) (string, error) {
	token, err := a.auth.Login(ctx.Context(), payload.GetIdentifier(), payload.GetPassword())
	if err != nil {
		a.Logger.Error("Login error: %s", err)
		return "", err
	}
	return token, nil
}

// Logout revokes the bearer token of the current request
func (a *RouteAuthenticator) Logout(ctx router.Context) error {
	token, err := a.BearerToken(ctx)
	if err != nil {
		return err
	}
	return a.auth.SignOut(ctx.Context(), token)
}

// BearerToken extracts the raw token using the configured lookup
func (a *RouteAuthenticator) BearerToken(ctx router.Context) (string, error) {
	extractors := jwtware.GetExtractors(a.cfg.GetTokenLookup(), a.cfg.GetAuthScheme())
	return jwtware.ExtractRawTokenFromContext(ctx, extractors)
}

// MakeClientRouteAuthErrorHandler normalizes bearer failures to auth errors
func (a *RouteAuthenticator) MakeClientRouteAuthErrorHandler() func(router.Context, error) error {
	return func(ctx router.Context, err error) error {
		var richErr *errors.Error

		switch {
		case HasTextCode(err, TextCodeMissingOrMalformedJWT):
			richErr = ErrJWTMissingOrMalformed
		case IsTokenExpiredError(err):
			richErr = ErrTokenExpired
		case HasTextCode(err, TextCodeTokenRevoked):
			richErr = ErrTokenRevoked
		case IsMalformedError(err):
			richErr = ErrTokenMalformed
		case errors.As(err, &richErr):
		default:
			richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid authentication token").
				WithCode(errors.CodeUnauthorized)
		}

		return a.AuthErrorHandler(ctx, richErr)
	}
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info("Authentication error: %s text_code=%s", richErr.Message, richErr.TextCode)

	return WriteError(c, richErr)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"Request error: %s category=%v details=%s",
		richErr.Message,
		richErr.Category,
		print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		return a.AuthErrorHandler(c, richErr)
	default:
		return WriteError(c, richErr)
	}
}

// ErrorBody is the JSON envelope for failed requests
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message  string         `json:"message"`
	TextCode string         `json:"text_code,omitempty"`
	Category string         `json:"category"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HTTPStatus maps an error to the status code it should be served with
func HTTPStatus(err error) int {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	if richErr.Code >= 400 && richErr.Code < 600 {
		return richErr.Code
	}

	switch richErr.Category {
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	}

	return http.StatusInternalServerError
}

// WriteError serves err as JSON. Internal errors do not leak their details.
func WriteError(c router.Context, err error) error {
	status := HTTPStatus(err)
	return c.JSON(status, newErrorBody(err, status))
}

func newErrorBody(err error, status int) ErrorBody {
	var richErr *errors.Error
	if !errors.As(err, &richErr) || status >= http.StatusInternalServerError {
		detail := ErrorDetail{
			Message:  "An unexpected server error occurred",
			Category: categoryName(errors.CategoryInternal),
		}
		if richErr != nil {
			detail.TextCode = richErr.TextCode
		}
		return ErrorBody{Error: detail}
	}

	return ErrorBody{Error: ErrorDetail{
		Message:  richErr.Message,
		TextCode: richErr.TextCode,
		Category: categoryName(richErr.Category),
		Metadata: richErr.Metadata,
	}}
}

func categoryName(c errors.Category) string {
	return fmt.Sprint(c)
}
