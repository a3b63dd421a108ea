package auth

import (
	"net/http"
	"strings"

	"github.com/goliatone/go-auth-privilege/middleware/jwtware"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	TextCodeTokenMalformed        = "TOKEN_MALFORMED"
	TextCodeTokenExpired          = "TOKEN_EXPIRED"
	TextCodeTokenRevoked          = "TOKEN_REVOKED"
	TextCodeOneTimeTokenNotFound  = "ONE_TIME_TOKEN_NOT_FOUND"
	TextCodeOneTimeTokenExpired   = "ONE_TIME_TOKEN_EXPIRED"
	TextCodeOneTimeTokenUsed      = "ONE_TIME_TOKEN_USED"
	TextCodeNoAssociatedUser      = "NO_ASSOCIATED_USER"
	TextCodeWeakPassword          = "WEAK_PASSWORD"
	TextCodePrivilegeDenied       = "PRIVILEGE_DENIED"
	TextCodeInvalidPrivilege      = "INVALID_PRIVILEGE"
	TextCodePrivilegeExists       = "PRIVILEGE_EXISTS"
	TextCodeEmailAlreadyExists    = "EMAIL_ALREADY_EXISTS"
	TextCodeAccountDisabled       = "ACCOUNT_DISABLED"
	TextCodeTooManyLoginAttempts  = "TOO_MANY_ATTEMPTS"
	TextCodeNotificationFailed    = "NOTIFICATION_FAILED"
	TextCodeIncorrectPassword     = "INCORRECT_CURRENT_PASSWORD"
	TextCodeInvalidRole           = "INVALID_ROLE"
	TextCodeStoreUnavailable      = "STORE_UNAVAILABLE"
	TextCodeMissingOrMalformedJWT = "MISSING_OR_MALFORMED_JWT"
)

var (
	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike
	ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
				WithTextCode(TextCodeInvalidCredentials).
				WithCode(goerrors.CodeUnauthorized)

	// ErrTokenMalformed covers bad signatures, unparsable tokens and wrong algorithms
	ErrTokenMalformed = goerrors.New("token is malformed or has an invalid signature", goerrors.CategoryAuth).
				WithTextCode(TextCodeTokenMalformed).
				WithCode(goerrors.CodeUnauthorized)

	ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
			WithTextCode(TextCodeTokenExpired).
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenRevoked = goerrors.New("token has been revoked", goerrors.CategoryAuth).
			WithTextCode(TextCodeTokenRevoked).
			WithCode(goerrors.CodeUnauthorized)

	ErrOneTimeTokenNotFound = goerrors.New("one time token not found", goerrors.CategoryNotFound).
				WithTextCode(TextCodeOneTimeTokenNotFound).
				WithCode(goerrors.CodeNotFound)

	ErrOneTimeTokenExpired = goerrors.New("one time token has expired", goerrors.CategoryValidation).
				WithTextCode(TextCodeOneTimeTokenExpired).
				WithCode(goerrors.CodeBadRequest)

	ErrOneTimeTokenUsed = goerrors.New("one time token has already been used", goerrors.CategoryConflict).
				WithTextCode(TextCodeOneTimeTokenUsed).
				WithCode(goerrors.CodeConflict)

	// ErrNoAssociatedUser signals a one time token whose principal no longer exists
	ErrNoAssociatedUser = goerrors.New("one time token is not associated with a user", goerrors.CategoryInternal).
				WithTextCode(TextCodeNoAssociatedUser).
				WithCode(goerrors.CodeInternal)

	ErrPrivilegeDenied = goerrors.New("principal lacks the required privilege", goerrors.CategoryAuthz).
				WithTextCode(TextCodePrivilegeDenied).
				WithCode(goerrors.CodeForbidden)

	ErrPrivilegeExists = goerrors.New("privilege already exists", goerrors.CategoryConflict).
				WithTextCode(TextCodePrivilegeExists).
				WithCode(goerrors.CodeConflict)

	ErrEmailAlreadyExists = goerrors.New("email is already registered", goerrors.CategoryConflict).
				WithTextCode(TextCodeEmailAlreadyExists).
				WithCode(goerrors.CodeConflict)

	ErrAccountDisabled = goerrors.New("account is not activated", goerrors.CategoryAuth).
				WithTextCode(TextCodeAccountDisabled).
				WithCode(goerrors.CodeForbidden)

	ErrTooManyLoginAttempts = goerrors.New("too many login attempts, try again later", goerrors.CategoryRateLimit).
				WithTextCode(TextCodeTooManyLoginAttempts).
				WithCode(http.StatusTooManyRequests)

	ErrIncorrectCurrentPassword = goerrors.New("current password is incorrect", goerrors.CategoryValidation).
					WithTextCode(TextCodeIncorrectPassword).
					WithCode(goerrors.CodeBadRequest)

	// ErrJWTMissingOrMalformed is returned when a request carries no bearer token
	ErrJWTMissingOrMalformed = jwtware.ErrJWTMissingOrMalformed

	// ErrNoEmptyString is returned when hashing an empty password
	ErrNoEmptyString = goerrors.New("password can not be an empty string", goerrors.CategoryValidation).
				WithTextCode(TextCodeWeakPassword).
				WithCode(goerrors.CodeBadRequest)
)

// NewWeakPasswordError builds a weak password error listing the failed rules
func NewWeakPasswordError(rules map[string]string) *goerrors.Error {
	meta := make(map[string]any, len(rules))
	for k, v := range rules {
		meta[k] = v
	}
	return goerrors.New("password does not satisfy the password policy", goerrors.CategoryValidation).
		WithTextCode(TextCodeWeakPassword).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(meta)
}

// NewInvalidPrivilegeError is returned when a privilege triple is not part of the taxonomy
func NewInvalidPrivilegeError(module Module, sub SubModule, action PrivilegeType) *goerrors.Error {
	return goerrors.New("invalid privilege", goerrors.CategoryValidation).
		WithTextCode(TextCodeInvalidPrivilege).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{
			"module":         string(module),
			"sub_module":     string(sub),
			"privilege_type": string(action),
		})
}

// NewNotificationError wraps a failed delivery, the token it carried stays valid
func NewNotificationError(err error, purpose TokenPurpose) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to deliver notification").
		WithTextCode(TextCodeNotificationFailed).
		WithMetadata(map[string]any{"purpose": string(purpose)})
}

// HasTextCode reports whether err carries the given text code
func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if HasTextCode(err, TextCodeTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if HasTextCode(err, TextCodeTokenMalformed) || HasTextCode(err, TextCodeMissingOrMalformedJWT) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsWeakPasswordError will check for password policy violations
func IsWeakPasswordError(err error) bool {
	return HasTextCode(err, TextCodeWeakPassword)
}

// IsNotFoundError reports whether err means the record does not exist
func IsNotFoundError(err error) bool {
	return isNotFound(err)
}

// StoreError keeps rich errors as they are and wraps anything else as a
// store failure
func StoreError(err error, msg string) error {
	return storeError(err, msg)
}

func storeError(err error, msg string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(TextCodeStoreUnavailable)
}
