// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package events delivers authentication notifications ("account created",
// "login succeeded") to an external sink without blocking the caller.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind names an event.
type Kind string

// Event kinds.
const (
	AccountCreated Kind = "account.created"
	LoginSucceeded Kind = "login.succeeded"
)

// Event is a single notification.
type Event struct {
	ID         ulid.ULID         `json:"id"`
	Kind       Kind              `json:"kind"`
	AccountID  string            `json:"account_id"`
	Method     string            `json:"method,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// New builds an event of the given kind stamped with a fresh id and time.
func New(kind Kind, accountID string) Event {
	return Event{
		ID:         ulid.Make(),
		Kind:       kind,
		AccountID:  accountID,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink receives events. Implementations may block; the Dispatcher bounds
// each delivery with a timeout.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// LogSink writes events to a structured logger. It is the default sink when
// no external consumer is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Deliver logs the event at info level.
func (s *LogSink) Deliver(ctx context.Context, e Event) error {
	s.logger.InfoContext(ctx, "auth event",
		"event_id", e.ID.String(),
		"kind", string(e.Kind),
		"account_id", e.AccountID,
		"method", e.Method,
		"provider", e.Provider,
	)
	return nil
}
