package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Code     string `json:"code" example:"042917" doc:"Reset code sent to the account email"`
	Password string `json:"password" example:"S0me_Secret!" doc:"New password"`
}

func (e FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

func (e FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Code, validation.Required, validation.Length(OneTimeCodeLength, OneTimeCodeLength), is.Digit),
		validation.Field(&e.Password, validation.Required),
	)
}

// FinalizePasswordResetHandler consumes a reset code and stores the new
// password in the same transaction
type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	tokens   *OneTimeTokenService
	activity ActivitySink
	logger   Logger
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, tokens *OneTimeTokenService) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		tokens:   tokens,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		if event.Code == "" || len(event.Code) != OneTimeCodeLength {
			return ErrOneTimeTokenNotFound
		}
		return validationError(err, "invalid password reset payload")
	}

	// a weak password must not burn the code
	if err := ValidatePassword(event.Password); err != nil {
		return err
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user, err := h.tokens.ConsumeFor(ctx, event.Code, PurposePasswordReset, func(ctx context.Context, tx bun.IDB, user *User) error {
		return h.repo.Users().UpdatePasswordTx(ctx, tx, user.ID, hash)
	})
	if err != nil {
		return err
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     actorFromUser(user),
		UserID:    user.ID.String(),
	})

	return nil
}
