package auth

import (
	"context"
	"time"
)

// Auther ties credential verification, token issuance and sign out together
type Auther struct {
	provider     IdentityProvider
	tokenService TokenService
	limiter      *LoginLimiter
	activitySink ActivitySink
	logger       Logger
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, tokenService TokenService) *Auther {
	return &Auther{
		provider:     provider,
		tokenService: tokenService,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = normalizeLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithLoginLimiter throttles repeated login attempts per email
func (s *Auther) WithLoginLimiter(limiter *LoginLimiter) *Auther {
	s.limiter = limiter
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Login verifies the credentials and returns a signed session token
func (s *Auther) Login(ctx context.Context, email, password string) (string, error) {
	if s.limiter != nil && !s.limiter.Allow(email) {
		s.logger.Warn("Login throttled for %s", email)
		s.emit(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": email,
			"error":      ErrTooManyLoginAttempts.Error(),
		})
		return "", ErrTooManyLoginAttempts
	}

	identity, err := s.provider.VerifyIdentity(ctx, email, password)
	if err != nil {
		s.logger.Error("Login verify identity error: %v", err)
		s.emit(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": email,
			"error":      err.Error(),
		})
		return "", err
	}

	if isNilIdentity(identity) {
		s.logger.Error("Login identity is nil")
		return "", ErrIdentityNotFound
	}

	token, err := s.tokenService.Generate(identity)
	if err != nil {
		s.emit(ctx, ActivityEventLoginFailure, actorFromIdentity(identity), identity.ID(), map[string]any{
			"identifier": email,
			"error":      err.Error(),
		})
		return "", err
	}

	if s.limiter != nil {
		s.limiter.Reset(email)
	}

	s.emit(ctx, ActivityEventLoginSuccess, actorFromIdentity(identity), identity.ID(), map[string]any{
		"identifier": email,
	})

	return token, nil
}

// SessionFromToken validates a bearer token
func (s *Auther) SessionFromToken(ctx context.Context, token string) (AuthClaims, error) {
	return s.tokenService.Validate(ctx, token)
}

// SignOut revokes the token, it fails for tokens that do not verify
func (s *Auther) SignOut(ctx context.Context, token string) error {
	claims, err := s.tokenService.Validate(ctx, token)
	if err != nil && !IsTokenExpiredError(err) && !HasTextCode(err, TextCodeTokenRevoked) {
		return err
	}

	if err := s.tokenService.Revoke(ctx, token); err != nil {
		s.logger.Error("SignOut failed to revoke token: %v", err)
		return err
	}

	if claims != nil {
		s.emit(ctx, ActivityEventSignOut, actorFromIdentity(claims), claims.UserID(), map[string]any{
			"jti": claims.TokenID(),
		})
	}

	return nil
}

func (s *Auther) emit(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	})
}
