// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"

	"github.com/holomush/authcore/internal/verification"
)

// NotificationKind names what a notification carries.
type NotificationKind string

// Notification kinds.
const (
	NotifyVerificationCode NotificationKind = "verification_code"
	NotifyPasswordReset    NotificationKind = "password_reset"
)

// Notification is a secret to hand to a person over a channel.
type Notification struct {
	Kind        NotificationKind
	Channel     verification.Channel
	Destination string
	Secret      string
}

// Notifier delivers notifications. SMS and email transports live outside
// this module.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the logger. It is meant for local
// development; the secret is only logged at debug level.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs n.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "notification queued",
		"kind", string(n.Kind),
		"channel", string(n.Channel),
		"destination", n.Destination)
	l.logger.DebugContext(ctx, "notification secret",
		"kind", string(n.Kind),
		"destination", n.Destination,
		"secret", n.Secret)
	return nil
}
