package auth

import (
	"context"
	"time"
)

// Notification carries a one time code to its owner
type Notification struct {
	Purpose   TokenPurpose
	Email     string
	FullName  string
	Code      string
	ExpiresAt time.Time
}

// Notifier delivers notifications, typically by email
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Send(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

// LogNotifier writes notifications to a Logger, meant for development
type LogNotifier struct {
	Logger Logger
}

func (l LogNotifier) Send(_ context.Context, n Notification) error {
	normalizeLogger(l.Logger).Info(
		"notification purpose=%s to=%s code=%s expires_at=%s",
		n.Purpose, n.Email, n.Code, n.ExpiresAt.Format(time.RFC3339),
	)
	return nil
}

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return LogNotifier{}
	}
	return n
}

// deliver sends the notification after the token has been committed. A
// failure is reported but the token stays valid so a resend can succeed.
func deliver(ctx context.Context, notifier Notifier, sink ActivitySink, logger Logger, user *User, token *OneTimeToken) error {
	if user == nil || token == nil {
		return nil
	}

	n := Notification{
		Purpose:   token.Purpose,
		Email:     user.Email,
		FullName:  user.FullName(),
		Code:      token.Code,
		ExpiresAt: token.ExpiresAt,
	}

	if err := normalizeNotifier(notifier).Send(ctx, n); err != nil {
		normalizeLogger(logger).Error("failed to deliver %s notification to %s: %v", token.Purpose, user.Email, err)
		recordActivity(ctx, sink, logger, ActivityEvent{
			EventType: ActivityEventNotificationFailure,
			Actor:     ActorRef{Type: "system"},
			UserID:    user.ID.String(),
			Metadata: map[string]any{
				"purpose": token.Purpose,
				"error":   err.Error(),
			},
		})
		return NewNotificationError(err, token.Purpose)
	}

	return nil
}
