// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// AccountRepository manages account persistence.
type AccountRepository interface {
	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByUsername retrieves an account by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByPhone retrieves an account by phone number.
	GetByPhone(ctx context.Context, phone string) (*Account, error)

	// NicknameTaken reports whether any account uses nickname.
	NicknameTaken(ctx context.Context, nickname string) (bool, error)

	// Create stores an account without a provider binding. Returns
	// ErrDuplicate when username, email or phone is already in use.
	Create(ctx context.Context, account *Account) error

	// CreateWithBinding stores an account and its first binding in one
	// transaction. Returns ErrDuplicate on any uniqueness violation, in
	// which case neither row is written.
	CreateWithBinding(ctx context.Context, account *Account, binding *Binding) error

	// UpdateLoginState persists failure counters and the last login time.
	UpdateLoginState(ctx context.Context, account *Account) error

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}

// BindingRepository manages provider bindings.
type BindingRepository interface {
	// GetByOpenID retrieves the binding for (provider, openID).
	GetByOpenID(ctx context.Context, provider, openID string) (*Binding, error)

	// GetByUnionID retrieves the most recently updated binding under
	// provider that carries unionID.
	GetByUnionID(ctx context.Context, provider, unionID string) (*Binding, error)

	// ListByAccount returns every binding of an account.
	ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*Binding, error)

	// Create stores a binding. Returns ErrDuplicate when (provider, open_id)
	// is already bound.
	Create(ctx context.Context, binding *Binding) error

	// UpdateOpenID rewrites a binding's open id, e.g. when a provider
	// reissues it under the same union id. Returns ErrDuplicate when the new
	// open id is already bound.
	UpdateOpenID(ctx context.Context, id ulid.ULID, openID string, raw json.RawMessage, at time.Time) error

	// UpdateMetadata rewrites a binding's union id and raw claims snapshot.
	UpdateMetadata(ctx context.Context, id ulid.ULID, unionID *string, raw json.RawMessage, at time.Time) error
}

// HandleSequence hands out unique account handles.
type HandleSequence interface {
	Next(ctx context.Context) (int64, error)
}
