package auth

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrMismatchedHashAndPassword is returned when the password does not match the hash
var ErrMismatchedHashAndPassword = ErrInvalidCredentials

// PasswordSpecialChars are the characters that satisfy the special character rule
const PasswordSpecialChars = "!@#$%^&*"

// PasswordMaxBytes is the longest input bcrypt accepts
const PasswordMaxBytes = 72

var (
	passwordUpper   = regexp.MustCompile(`[A-Z]`)
	passwordLower   = regexp.MustCompile(`[a-z]`)
	passwordDigit   = regexp.MustCompile(`[0-9]`)
	passwordSpecial = regexp.MustCompile(`[!@#$%^&*]`)
)

// dummyHash is compared against when the email is unknown so both
// failure paths cost one bcrypt comparison.
var dummyHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), passwordHashCost())
	if err != nil {
		panic(err)
	}
	return string(h)
}()

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost())
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", NewWeakPasswordError(map[string]string{"length": passwordTooLongMessage})
	}
	return string(h), err
}

const passwordTooLongMessage = "must be at most 72 bytes long"

func passwordMaxBytes(value any) error {
	s, _ := value.(string)
	if len(s) > PasswordMaxBytes {
		return errors.New(passwordTooLongMessage)
	}
	return nil
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// ValidatePassword checks the password policy: at least 8 characters with
// an upper case letter, a lower case letter, a digit and one of !@#$%^&*.
// Input longer than bcrypt can hash is rejected the same way.
func ValidatePassword(password string) error {
	rules := map[string]validation.Rule{
		"length":  validation.Length(8, 0).Error("must be at least 8 characters long"),
		"upper":   validation.Match(passwordUpper).Error("must contain an upper case letter"),
		"lower":   validation.Match(passwordLower).Error("must contain a lower case letter"),
		"digit":   validation.Match(passwordDigit).Error("must contain a digit"),
		"special": validation.Match(passwordSpecial).Error("must contain one of " + PasswordSpecialChars),
		"max":     validation.By(passwordMaxBytes),
	}

	failed := map[string]string{}

	if password == "" {
		failed["required"] = "password is required"
	}

	for name, rule := range rules {
		if err := validation.Validate(password, rule); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		return NewWeakPasswordError(failed)
	}

	return nil
}

// RandomPasswordHash is a temporary password
func RandomPasswordHash() string {
	pwd := uuid.New()

	h, err := HashPassword(pwd.String())
	if err != nil {
		return RandomPasswordHash()
	}

	return h
}

type bcryptAuthenticator struct{}

// NewPasswordAuthenticator returns the bcrypt backed PasswordAuthenticator
func NewPasswordAuthenticator() PasswordAuthenticator {
	return bcryptAuthenticator{}
}

func (bcryptAuthenticator) HashPassword(password string) (string, error) {
	return HashPassword(password)
}

func (bcryptAuthenticator) ComparePasswordAndHash(password, hash string) error {
	return ComparePasswordAndHash(password, hash)
}
