// Package logrus adapts a logrus logger to auth.Logger.
package logrus

import (
	auth "github.com/goliatone/go-auth-privilege"
	"github.com/sirupsen/logrus"
)

// Logger forwards auth log lines to a logrus entry
type Logger struct {
	entry *logrus.Entry
}

var _ auth.Logger = (*Logger)(nil)

// New wraps l, a nil l uses the logrus standard logger
func New(l *logrus.Logger) *Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &Logger{entry: logrus.NewEntry(l).WithField("component", "auth")}
}

// WithField returns a logger that adds key to every line
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debug(format string, args ...any) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.entry.Errorf(format, args...)
}
