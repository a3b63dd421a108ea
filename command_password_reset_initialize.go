package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

// InitializePasswordResetResponse is returned for known and unknown emails
// alike. Token is only set for a known account.
type InitializePasswordResetResponse struct {
	Token   *OneTimeToken
	Success bool
}

// InitializePasswordResetHandler issues a reset code and sends it to the
// account owner
type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	tokens   *OneTimeTokenService
	notifier Notifier
	activity ActivitySink
	timeout  time.Duration
	logger   Logger
}

func NewInitializePasswordResetHandler(repo RepositoryManager, tokens *OneTimeTokenService) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:     repo,
		tokens:   tokens,
		notifier: LogNotifier{},
		activity: noopActivitySink{},
		timeout:  DefaultStoreTimeout,
		logger:   defLogger{},
	}
}

func (h *InitializePasswordResetHandler) WithNotifier(n Notifier) *InitializePasswordResetHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *InitializePasswordResetHandler) WithStoreTimeout(d time.Duration) *InitializePasswordResetHandler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return validationError(err, "invalid password reset request")
	}

	resp := &InitializePasswordResetResponse{}
	var user *User

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = h.repo.Users().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if isNotFound(err) {
				user = nil
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		resp.Token, err = h.tokens.IssueTx(ctx, tx, user, PurposePasswordReset)
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	resp.Success = true

	if user == nil {
		h.logger.Debug("password reset requested for unknown email")
	} else {
		recordActivity(ctx, h.activity, h.logger, ActivityEvent{
			EventType: ActivityEventPasswordResetRequest,
			Actor:     actorFromUser(user),
			UserID:    user.ID.String(),
		})

		if err := deliver(ctx, h.notifier, h.activity, h.logger, user, resp.Token); err != nil {
			return err
		}
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
