package auth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// DefaultPhoneRegion is used to parse phone numbers without a country prefix
const DefaultPhoneRegion = "US"

type RegisterUserMessage struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	UseHashid  bool   `json:"-"`
	OnResponse func(resp *RegisterUserResponse)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&e.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.Password, validation.Required),
	)
}

type RegisterUserResponse struct {
	User  *User
	Token *OneTimeToken
}

// RegisterUserHandler creates a disabled account and sends it an
// activation code
type RegisterUserHandler struct {
	repo     RepositoryManager
	tokens   *OneTimeTokenService
	notifier Notifier
	activity ActivitySink
	region   string
	timeout  time.Duration
	logger   Logger
}

func NewRegisterUserHandler(repo RepositoryManager, tokens *OneTimeTokenService) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:     repo,
		tokens:   tokens,
		notifier: LogNotifier{},
		activity: noopActivitySink{},
		region:   DefaultPhoneRegion,
		timeout:  DefaultStoreTimeout,
		logger:   defLogger{},
	}
}

func (h *RegisterUserHandler) WithNotifier(n Notifier) *RegisterUserHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithPhoneRegion sets the region used for numbers without a country code
func (h *RegisterUserHandler) WithPhoneRegion(region string) *RegisterUserHandler {
	if region != "" {
		h.region = strings.ToUpper(region)
	}
	return h
}

func (h *RegisterUserHandler) WithStoreTimeout(d time.Duration) *RegisterUserHandler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	if err := event.Validate(); err != nil {
		return validationError(err, "invalid registration payload")
	}

	if err := ValidatePassword(event.Password); err != nil {
		return err
	}

	phone, err := NormalizePhone(event.Phone, h.region)
	if err != nil {
		return err
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Role:         RoleUser,
		FirstName:    strings.TrimSpace(event.FirstName),
		LastName:     strings.TrimSpace(event.LastName),
		Email:        NormalizeEmail(event.Email),
		Phone:        phone,
		PasswordHash: hash,
		Enabled:      false,
	}

	if event.UseHashid {
		if id, err := hashid.NewUUID(user.Email); err == nil {
			user.ID = id
		}
	}

	resp := &RegisterUserResponse{}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := h.repo.Users().ExistsByEmailTx(ctx, tx, user.Email)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
		}

		if exists {
			return ErrEmailAlreadyExists
		}

		created, err := h.repo.Users().CreateTx(ctx, tx, user)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrEmailAlreadyExists
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
		}

		token, err := h.tokens.IssueTx(ctx, tx, created, PurposeActivation)
		if err != nil {
			return err
		}

		resp.User = created
		resp.Token = token
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	h.logger.Info("registered user %s", resp.User.Email)

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor:     actorFromUser(resp.User),
		UserID:    resp.User.ID.String(),
		Metadata:  map[string]any{"email": resp.User.Email},
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	// the account exists even if the code could not be sent, a new one
	// can be requested
	return deliver(ctx, h.notifier, h.activity, h.logger, resp.User, resp.Token)
}

// NormalizePhone returns the E.164 form of phone. Empty input is allowed.
func NormalizePhone(phone, region string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}

	if region == "" {
		region = DefaultPhoneRegion
	}

	num, err := phonenumbers.Parse(phone, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", goerrors.New("invalid phone number", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"phone": phone, "region": region})
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func validationError(err error, msg string) error {
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
