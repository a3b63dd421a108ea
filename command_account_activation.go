package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type ActivateAccountMessage struct {
	Code       string `json:"code"`
	OnResponse func(user *User)
}

func (e ActivateAccountMessage) Type() string { return "user.activate" }

func (e ActivateAccountMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Code, validation.Required, validation.Length(OneTimeCodeLength, OneTimeCodeLength), is.Digit),
	)
}

// ActivateAccountHandler consumes an activation code and enables its user
type ActivateAccountHandler struct {
	repo     RepositoryManager
	tokens   *OneTimeTokenService
	activity ActivitySink
	logger   Logger
}

func NewActivateAccountHandler(repo RepositoryManager, tokens *OneTimeTokenService) *ActivateAccountHandler {
	return &ActivateAccountHandler{
		repo:     repo,
		tokens:   tokens,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *ActivateAccountHandler) WithActivitySink(sink ActivitySink) *ActivateAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *ActivateAccountHandler) WithLogger(logger Logger) *ActivateAccountHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *ActivateAccountHandler) Execute(ctx context.Context, event ActivateAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account activation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ActivateAccountHandler) execute(ctx context.Context, event ActivateAccountMessage) error {
	if err := event.Validate(); err != nil {
		return ErrOneTimeTokenNotFound
	}

	user, err := h.tokens.ConsumeFor(ctx, event.Code, PurposeActivation, func(ctx context.Context, tx bun.IDB, user *User) error {
		return h.repo.Users().EnableTx(ctx, tx, user.ID)
	})

	if err != nil {
		if HasTextCode(err, TextCodeOneTimeTokenExpired) {
			h.logger.Info("activation code expired, a new one has to be requested")
		}
		return err
	}

	user.Enabled = true

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventAccountActivated,
		Actor:     actorFromUser(user),
		UserID:    user.ID.String(),
	})

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

type RequestActivationCodeMessage struct {
	Email string `json:"email"`
}

func (e RequestActivationCodeMessage) Type() string { return "user.activation_code" }

func (e RequestActivationCodeMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
	)
}

// RequestActivationCodeHandler sends a fresh activation code to an account
// that has not been activated. Unknown and active accounts are ignored so
// the response does not reveal which emails are registered.
type RequestActivationCodeHandler struct {
	repo     RepositoryManager
	tokens   *OneTimeTokenService
	notifier Notifier
	activity ActivitySink
	timeout  time.Duration
	logger   Logger
}

func NewRequestActivationCodeHandler(repo RepositoryManager, tokens *OneTimeTokenService) *RequestActivationCodeHandler {
	return &RequestActivationCodeHandler{
		repo:     repo,
		tokens:   tokens,
		notifier: LogNotifier{},
		activity: noopActivitySink{},
		timeout:  DefaultStoreTimeout,
		logger:   defLogger{},
	}
}

func (h *RequestActivationCodeHandler) WithNotifier(n Notifier) *RequestActivationCodeHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

func (h *RequestActivationCodeHandler) WithActivitySink(sink ActivitySink) *RequestActivationCodeHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *RequestActivationCodeHandler) WithStoreTimeout(d time.Duration) *RequestActivationCodeHandler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

func (h *RequestActivationCodeHandler) WithLogger(logger Logger) *RequestActivationCodeHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *RequestActivationCodeHandler) Execute(ctx context.Context, event RequestActivationCodeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during activation code request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestActivationCodeHandler) execute(ctx context.Context, event RequestActivationCodeMessage) error {
	if err := event.Validate(); err != nil {
		return validationError(err, "invalid activation code request")
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var user *User
	var token *OneTimeToken

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = h.repo.Users().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if isNotFound(err) {
				user = nil
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for activation")
		}

		if user.Enabled {
			return nil
		}

		token, err = h.tokens.IssueTx(ctx, tx, user, PurposeActivation)
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue activation code")
	}

	if token == nil {
		h.logger.Debug("activation code not issued for %s", event.Email)
		return nil
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventActivationRequested,
		Actor:     actorFromUser(user),
		UserID:    user.ID.String(),
	})

	return deliver(ctx, h.notifier, h.activity, h.logger, user, token)
}
