package auth_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-privilege"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commandFixture struct {
	repo     auth.RepositoryManager
	tokens   *auth.OneTimeTokenService
	notifier *capturingNotifier
	sink     *capturingSink
	clock    *fakeClock
	auther   *auth.Auther
}

func newCommandFixture(t *testing.T, requireActivation bool) *commandFixture {
	t.Helper()

	repo, _ := newTestRepo(t)
	clock := newFakeClock()

	tokenService := auth.NewTokenService(signingKey, time.Hour, "test-issuer", jwt.ClaimStrings{"test-audience"},
		auth.WithTokenClock(clock.Now),
	)

	sink := &capturingSink{}
	provider := auth.NewUserProvider(repo.Users()).WithRequireActivation(requireActivation)

	return &commandFixture{
		repo:     repo,
		tokens:   auth.NewOneTimeTokenService(repo).WithClock(clock.Now),
		notifier: &capturingNotifier{},
		sink:     sink,
		clock:    clock,
		auther:   auth.NewAuthenticator(provider, tokenService).WithActivitySink(sink),
	}
}

func (f *commandFixture) register(t *testing.T, email string) *auth.RegisterUserResponse {
	t.Helper()

	var resp *auth.RegisterUserResponse
	err := auth.NewRegisterUserHandler(f.repo, f.tokens).
		WithNotifier(f.notifier).
		WithActivitySink(f.sink).
		Execute(context.Background(), auth.RegisterUserMessage{
			FirstName:  "Ana",
			LastName:   "Lopez",
			Email:      email,
			Phone:      "(650) 253-0000",
			Password:   testPassword,
			OnResponse: func(r *auth.RegisterUserResponse) { resp = r },
		})
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestRegisterActivateLogin(t *testing.T) {
	ctx := context.Background()
	f := newCommandFixture(t, true)

	resp := f.register(t, "Ana@Example.com")

	assert.Equal(t, "ana@example.com", resp.User.Email)
	assert.Equal(t, "+16502530000", resp.User.Phone)
	assert.Equal(t, auth.RoleUser, resp.User.Role)
	assert.False(t, resp.User.Enabled)
	assert.NotEqual(t, testPassword, resp.User.PasswordHash)
	assert.Equal(t, auth.PurposeActivation, resp.Token.Purpose)

	sent := f.notifier.Last()
	assert.Equal(t, resp.Token.Code, sent.Code)
	assert.Equal(t, "ana@example.com", sent.Email)
	assert.Equal(t, "Ana Lopez", sent.FullName)

	_, err := f.auther.Login(ctx, "ana@example.com", testPassword)
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeAccountDisabled))

	var activated *auth.User
	err = auth.NewActivateAccountHandler(f.repo, f.tokens).
		WithActivitySink(f.sink).
		Execute(ctx, auth.ActivateAccountMessage{
			Code:       sent.Code,
			OnResponse: func(u *auth.User) { activated = u },
		})
	require.NoError(t, err)
	require.NotNil(t, activated)
	assert.True(t, activated.Enabled)

	token, err := f.auther.Login(ctx, "ANA@example.com", testPassword)
	require.NoError(t, err)

	claims, err := f.auther.SessionFromToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID.String(), claims.UserID())

	assert.Subset(t, f.sink.Types(), []auth.ActivityEventType{
		auth.ActivityEventUserRegistered,
		auth.ActivityEventLoginFailure,
		auth.ActivityEventAccountActivated,
		auth.ActivityEventLoginSuccess,
	})

	t.Run("activation code is single use", func(t *testing.T) {
		err := auth.NewActivateAccountHandler(f.repo, f.tokens).
			Execute(ctx, auth.ActivateAccountMessage{Code: sent.Code})
		require.Error(t, err)
		assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenUsed))
	})
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newCommandFixture(t, false)
	f.register(t, "dup@example.com")

	err := auth.NewRegisterUserHandler(f.repo, f.tokens).Execute(context.Background(), auth.RegisterUserMessage{
		FirstName: "Other",
		LastName:  "Person",
		Email:     "DUP@example.com",
		Password:  testPassword,
	})
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeEmailAlreadyExists))
}

func TestRegister_Validation(t *testing.T) {
	f := newCommandFixture(t, false)
	handler := auth.NewRegisterUserHandler(f.repo, f.tokens)

	tests := []struct {
		name  string
		msg   auth.RegisterUserMessage
		check func(t *testing.T, err error)
	}{
		{
			name: "weak password",
			msg:  auth.RegisterUserMessage{FirstName: "A", LastName: "B", Email: "weak@example.com", Password: "password"},
			check: func(t *testing.T, err error) {
				assert.True(t, auth.IsWeakPasswordError(err))
			},
		},
		{
			name: "password longer than bcrypt accepts",
			msg:  auth.RegisterUserMessage{FirstName: "A", LastName: "B", Email: "long@example.com", Password: testPassword + strings.Repeat("x", 70)},
			check: func(t *testing.T, err error) {
				assert.True(t, auth.IsWeakPasswordError(err))
				assert.Equal(t, http.StatusBadRequest, auth.HTTPStatus(err))
			},
		},
		{
			name: "invalid email",
			msg:  auth.RegisterUserMessage{FirstName: "A", LastName: "B", Email: "not-an-email", Password: testPassword},
			check: func(t *testing.T, err error) {
				var richErr *goerrors.Error
				require.True(t, goerrors.As(err, &richErr))
				assert.Equal(t, goerrors.CategoryValidation, richErr.Category)
				assert.Contains(t, richErr.Metadata, "email")
			},
		},
		{
			name: "invalid phone",
			msg:  auth.RegisterUserMessage{FirstName: "A", LastName: "B", Email: "phone@example.com", Phone: "12", Password: testPassword},
			check: func(t *testing.T, err error) {
				var richErr *goerrors.Error
				require.True(t, goerrors.As(err, &richErr))
				assert.Equal(t, goerrors.CategoryValidation, richErr.Category)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handler.Execute(context.Background(), tt.msg)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestRegister_NotificationFailureKeepsAccount(t *testing.T) {
	ctx := context.Background()
	f := newCommandFixture(t, false)
	f.notifier.err = errors.New("smtp unavailable")

	var resp *auth.RegisterUserResponse
	err := auth.NewRegisterUserHandler(f.repo, f.tokens).
		WithNotifier(f.notifier).
		WithActivitySink(f.sink).
		Execute(ctx, auth.RegisterUserMessage{
			FirstName:  "Ana",
			LastName:   "Lopez",
			Email:      "smtp@example.com",
			Password:   testPassword,
			OnResponse: func(r *auth.RegisterUserResponse) { resp = r },
		})
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeNotificationFailed))
	require.NotNil(t, resp)

	user, err := f.repo.Users().GetByEmail(ctx, "smtp@example.com")
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, user.ID)
	assert.Contains(t, f.sink.Types(), auth.ActivityEventNotificationFailure)

	f.notifier.err = nil
	require.NoError(t, auth.NewRequestActivationCodeHandler(f.repo, f.tokens).
		WithNotifier(f.notifier).
		Execute(ctx, auth.RequestActivationCodeMessage{Email: "smtp@example.com"}))

	require.NoError(t, auth.NewActivateAccountHandler(f.repo, f.tokens).
		Execute(ctx, auth.ActivateAccountMessage{Code: f.notifier.Last().Code}))
}

func TestActivate_ExpiredCode(t *testing.T) {
	ctx := context.Background()
	f := newCommandFixture(t, true)
	resp := f.register(t, "late@example.com")

	f.clock.Advance(16 * time.Minute)

	err := auth.NewActivateAccountHandler(f.repo, f.tokens).
		Execute(ctx, auth.ActivateAccountMessage{Code: resp.Token.Code})
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenExpired))

	user, err := f.repo.Users().GetByEmail(ctx, "late@example.com")
	require.NoError(t, err)
	assert.False(t, user.Enabled)
}

func TestActivate_MalformedCode(t *testing.T) {
	f := newCommandFixture(t, true)
	handler := auth.NewActivateAccountHandler(f.repo, f.tokens)

	for _, code := range []string{"", "12345", "abcdef", "1234567"} {
		err := handler.Execute(context.Background(), auth.ActivateAccountMessage{Code: code})
		require.Error(t, err)
		assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenNotFound), code)
	}
}

func TestRequestActivationCode_Silent(t *testing.T) {
	ctx := context.Background()
	f := newCommandFixture(t, true)
	handler := auth.NewRequestActivationCodeHandler(f.repo, f.tokens).WithNotifier(f.notifier)

	require.NoError(t, handler.Execute(ctx, auth.RequestActivationCodeMessage{Email: "nobody@example.com"}))
	assert.Empty(t, f.notifier.sent)

	resp := f.register(t, "active@example.com")
	require.NoError(t, auth.NewActivateAccountHandler(f.repo, f.tokens).
		Execute(ctx, auth.ActivateAccountMessage{Code: resp.Token.Code}))

	before := len(f.notifier.sent)
	require.NoError(t, handler.Execute(ctx, auth.RequestActivationCodeMessage{Email: "active@example.com"}))
	assert.Len(t, f.notifier.sent, before)
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	f := newCommandFixture(t, false)
	f.register(t, "reset@example.com")

	var initResp *auth.InitializePasswordResetResponse
	err := auth.NewInitializePasswordResetHandler(f.repo, f.tokens).
		WithNotifier(f.notifier).
		WithActivitySink(f.sink).
		Execute(ctx, auth.InitializePasswordResetMessage{
			Email:      "reset@example.com",
			OnResponse: func(r *auth.InitializePasswordResetResponse) { initResp = r },
		})
	require.NoError(t, err)
	require.NotNil(t, initResp)
	assert.True(t, initResp.Success)
	require.NotNil(t, initResp.Token)
	assert.Equal(t, auth.PurposePasswordReset, initResp.Token.Purpose)

	code := f.notifier.Last().Code
	finalize := auth.NewFinalizePasswordResetHandler(f.repo, f.tokens).WithActivitySink(f.sink)

	t.Run("weak password keeps the code", func(t *testing.T) {
		err := finalize.Execute(ctx, auth.FinalizePasswordResetMessage{Code: code, Password: "short"})
		require.Error(t, err)
		assert.True(t, auth.IsWeakPasswordError(err))
	})

	const newPassword = "N3w!Passw0rd"
	require.NoError(t, finalize.Execute(ctx, auth.FinalizePasswordResetMessage{Code: code, Password: newPassword}))

	_, err = f.auther.Login(ctx, "reset@example.com", testPassword)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidCredentials))

	_, err = f.auther.Login(ctx, "reset@example.com", newPassword)
	assert.NoError(t, err)

	err = finalize.Execute(ctx, auth.FinalizePasswordResetMessage{Code: code, Password: "An0ther!pass"})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenUsed))

	assert.Contains(t, f.sink.Types(), auth.ActivityEventPasswordResetSuccess)
}

func TestPasswordReset_ActivationCodeRejected(t *testing.T) {
	ctx := context.Background()
	f := newCommandFixture(t, false)
	resp := f.register(t, "mixup@example.com")

	err := auth.NewFinalizePasswordResetHandler(f.repo, f.tokens).
		Execute(ctx, auth.FinalizePasswordResetMessage{Code: resp.Token.Code, Password: "N3w!Passw0rd"})
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeOneTimeTokenNotFound))
}

func TestPasswordReset_UnknownEmail(t *testing.T) {
	f := newCommandFixture(t, false)

	var resp *auth.InitializePasswordResetResponse
	err := auth.NewInitializePasswordResetHandler(f.repo, f.tokens).
		WithNotifier(f.notifier).
		Execute(context.Background(), auth.InitializePasswordResetMessage{
			Email:      "ghost@example.com",
			OnResponse: func(r *auth.InitializePasswordResetResponse) { resp = r },
		})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Token)
	assert.Empty(t, f.notifier.sent)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newCommandFixture(t, false)
	resp := f.register(t, "change@example.com")
	handler := auth.NewChangePasswordHandler(f.repo).WithActivitySink(f.sink)

	t.Run("wrong current password", func(t *testing.T) {
		err := handler.Execute(ctx, auth.ChangePasswordMessage{
			UserID:          resp.User.ID.String(),
			CurrentPassword: "Wr0ng!pass",
			NewPassword:     "N3w!Passw0rd",
		})
		require.Error(t, err)
		assert.True(t, auth.HasTextCode(err, auth.TextCodeIncorrectPassword))
	})

	t.Run("weak new password", func(t *testing.T) {
		err := handler.Execute(ctx, auth.ChangePasswordMessage{
			UserID:          resp.User.ID.String(),
			CurrentPassword: testPassword,
			NewPassword:     "newpassword",
		})
		assert.True(t, auth.IsWeakPasswordError(err))
	})

	t.Run("unknown user", func(t *testing.T) {
		err := handler.Execute(ctx, auth.ChangePasswordMessage{
			UserID:          "0b3e0c1a-8f8e-4a4e-9c1e-3a6d7c2b9f10",
			CurrentPassword: testPassword,
			NewPassword:     "N3w!Passw0rd",
		})
		var richErr *goerrors.Error
		require.True(t, goerrors.As(err, &richErr))
		assert.Equal(t, goerrors.CategoryNotFound, richErr.Category)
	})

	require.NoError(t, handler.Execute(ctx, auth.ChangePasswordMessage{
		UserID:          resp.User.ID.String(),
		CurrentPassword: testPassword,
		NewPassword:     "N3w!Passw0rd",
	}))

	_, err := f.auther.Login(ctx, "change@example.com", "N3w!Passw0rd")
	assert.NoError(t, err)
	assert.Contains(t, f.sink.Types(), auth.ActivityEventPasswordChanged)
}

func TestCommandsHonorCancelledContext(t *testing.T) {
	f := newCommandFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := auth.NewRegisterUserHandler(f.repo, f.tokens).Execute(ctx, auth.RegisterUserMessage{
		FirstName: "A",
		LastName:  "B",
		Email:     "cancel@example.com",
		Password:  testPassword,
	})
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryOperation, richErr.Category)
}
