package auth

import (
	"context"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

func newTokenID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

var _ TokenService = (*TokenServiceImpl)(nil)

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey      []byte
	tokenExpiration time.Duration
	issuer          string
	audience        jwt.ClaimStrings
	revocations     RevocationStore
	storeTimeout    time.Duration
	now             func() time.Time
	logger          Logger
}

// TokenServiceOption customises a TokenServiceImpl
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenClock overrides the clock used for issuing and validating tokens
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if now != nil {
			ts.now = now
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.logger = normalizeLogger(logger)
	}
}

// WithRevocationStore sets the store consulted on every validation
func WithRevocationStore(store RevocationStore) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.revocations = store
	}
}

// WithTokenStoreTimeout bounds revocation store calls
func WithTokenStoreTimeout(d time.Duration) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if d > 0 {
			ts.storeTimeout = d
		}
	}
}

// NewTokenService creates a new TokenService instance, the token lifetime
// is tokenExpiration.
func NewTokenService(signingKey []byte, tokenExpiration time.Duration, issuer string, audience jwt.ClaimStrings, opts ...TokenServiceOption) *TokenServiceImpl {
	ts := &TokenServiceImpl{
		signingKey:      signingKey,
		tokenExpiration: tokenExpiration,
		issuer:          issuer,
		audience:        audience,
		storeTimeout:    DefaultStoreTimeout,
		now:             time.Now,
		logger:          defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// NewTokenServiceFromConfig builds a TokenService from a Config
func NewTokenServiceFromConfig(cfg Config, opts ...TokenServiceOption) *TokenServiceImpl {
	base := []TokenServiceOption{WithTokenStoreTimeout(cfg.GetStoreTimeout())}
	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		time.Duration(cfg.GetTokenExpiration())*time.Hour,
		cfg.GetIssuer(),
		cfg.GetAudience(),
		append(base, opts...)...,
	)
}

// TTL returns the lifetime of issued tokens
func (ts *TokenServiceImpl) TTL() time.Duration {
	return ts.tokenExpiration
}

// Generate creates a JWT token carrying the identity
func (ts *TokenServiceImpl) Generate(identity Identity) (string, error) {
	if identity == nil {
		return "", errors.New("identity must not be nil", errors.CategoryInternal)
	}

	now := ts.now()
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        newTokenID(now),
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.tokenExpiration)),
		},
		UID:      identity.ID(),
		Name:     identity.FullName(),
		Mail:     identity.Email(),
		UserRole: identity.Role(),
	}

	return ts.SignClaims(claims)
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate checks the signature, then the expiry, then the revocation
// store. It never reads the user store.
func (ts *TokenServiceImpl) Validate(ctx context.Context, tokenString string) (AuthClaims, error) {
	claims, err := ts.parse(tokenString, true)
	if err != nil {
		return nil, err
	}

	if ts.revocations == nil {
		return claims, nil
	}

	ctx, cancel := context.WithTimeout(ctx, ts.storeTimeout)
	defer cancel()

	revoked, err := ts.revocations.IsRevoked(ctx, tokenString)
	if err != nil {
		ts.logger.Error("TokenService validate failed to query revocation store: %v", err)
		return nil, storeError(err, "failed to query revocation store")
	}

	if revoked {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

// Revoke adds the token to the revocation store until it expires. Tokens
// that already expired are left alone, revoking twice is a no-op.
func (ts *TokenServiceImpl) Revoke(ctx context.Context, tokenString string) error {
	claims, err := ts.parse(tokenString, false)
	if err != nil {
		return err
	}

	expiresAt := claims.Expires()
	if !expiresAt.IsZero() && !ts.now().Before(expiresAt) {
		return nil
	}

	if ts.revocations == nil {
		return errors.New("revocation store is not configured", errors.CategoryInternal)
	}

	ctx, cancel := context.WithTimeout(ctx, ts.storeTimeout)
	defer cancel()

	if err := ts.revocations.Revoke(ctx, tokenString, expiresAt); err != nil {
		ts.logger.Error("TokenService revoke failed to store token: %v", err)
		return storeError(err, "failed to revoke token")
	}

	return nil
}

func (ts *TokenServiceImpl) parse(tokenString string, validateClaims bool) (*JWTClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}

	if validateClaims {
		parserOptions = append(parserOptions, jwt.WithExpirationRequired())
		if ts.issuer != "" {
			parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
		}
		// issued tokens carry every configured audience, the first is enough
		if len(ts.audience) > 0 {
			parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
		}
	} else {
		parserOptions = append(parserOptions, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService could not decode or validate claims")
		return nil, ErrTokenMalformed
	}

	return claims, nil
}
