// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/identity"
)

const accountColumns = `id, handle, username, email, phone, COALESCE(password_hash, ''), account_type, status,
		       nickname, avatar_url, failed_attempts, locked_until, last_login_at, created_at, updated_at`

// AccountRepository implements identity.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool poolIface
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*identity.Account, error) {
	return r.getOne(ctx, "id", id.String(),
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`)
}

// GetByUsername retrieves an account by username (case-insensitive).
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*identity.Account, error) {
	return r.getOne(ctx, "username", username,
		`SELECT `+accountColumns+` FROM accounts WHERE LOWER(username) = LOWER($1)`)
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*identity.Account, error) {
	return r.getOne(ctx, "email", email,
		`SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = LOWER($1)`)
}

// GetByPhone retrieves an account by phone number.
func (r *AccountRepository) GetByPhone(ctx context.Context, phone string) (*identity.Account, error) {
	return r.getOne(ctx, "phone", phone,
		`SELECT `+accountColumns+` FROM accounts WHERE phone = $1`)
}

func (r *AccountRepository) getOne(ctx context.Context, field, value, query string) (*identity.Account, error) {
	account, err := scanAccount(r.pool.QueryRow(ctx, query, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With(field, value).Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by "+field).
			With(field, value).
			Wrap(err)
	}
	return account, nil
}

// NicknameTaken reports whether any account uses nickname.
func (r *AccountRepository) NicknameTaken(ctx context.Context, nickname string) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE nickname = $1)`, nickname).Scan(&taken)
	if err != nil {
		return false, oops.Code("ACCOUNT_NICKNAME_CHECK_FAILED").With("nickname", nickname).Wrap(err)
	}
	return taken, nil
}

// Create stores an account without a binding.
func (r *AccountRepository) Create(ctx context.Context, a *identity.Account) error {
	if err := insertAccount(ctx, r.pool, a); err != nil {
		return writeErr(err, "ACCOUNT_CREATE_FAILED", "insert account")
	}
	return nil
}

// CreateWithBinding stores an account and its first binding atomically.
func (r *AccountRepository) CreateWithBinding(ctx context.Context, a *identity.Account, b *identity.Binding) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").With("operation", "begin transaction").Wrap(err)
	}

	if err := insertAccount(ctx, tx, a); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // insert error takes precedence
		return writeErr(err, "ACCOUNT_CREATE_FAILED", "insert account")
	}
	if err := insertBinding(ctx, tx, b); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // insert error takes precedence
		return writeErr(err, "ACCOUNT_CREATE_FAILED", "insert binding")
	}
	if err := tx.Commit(ctx); err != nil {
		return writeErr(err, "ACCOUNT_CREATE_FAILED", "commit transaction")
	}
	return nil
}

func insertAccount(ctx context.Context, db execer, a *identity.Account) error {
	_, err := db.Exec(ctx, `
		INSERT INTO accounts (
			id, handle, username, email, phone, password_hash, account_type, status,
			nickname, avatar_url, failed_attempts, locked_until, last_login_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		a.ID.String(),
		a.Handle,
		a.Username,
		a.Email,
		a.Phone,
		optional(a.PasswordHash),
		string(a.Type),
		string(a.Status),
		a.Nickname,
		a.AvatarURL,
		a.FailedAttempts,
		a.LockedUntil,
		a.LastLoginAt,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err //nolint:wrapcheck // callers classify
}

// UpdateLoginState persists failure counters and the last login time.
func (r *AccountRepository) UpdateLoginState(ctx context.Context, a *identity.Account) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET failed_attempts = $2, locked_until = $3, last_login_at = $4, updated_at = $5
		WHERE id = $1
	`, a.ID.String(), a.FailedAttempts, a.LockedUntil, a.LastLoginAt, a.UpdatedAt)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update login state").
			With("id", a.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", a.ID.String()).Wrap(identity.ErrNotFound)
	}
	return nil
}

// UpdatePassword replaces the password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, failed_attempts = 0, locked_until = NULL, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, time.Now())
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(identity.ErrNotFound)
	}
	return nil
}

// scanAccount scans a single row. pgx.ErrNoRows is returned unwrapped.
func scanAccount(row pgx.Row) (*identity.Account, error) {
	var (
		idStr       string
		a           identity.Account
		accountType string
		status      string
	)
	err := row.Scan(
		&idStr,
		&a.Handle,
		&a.Username,
		&a.Email,
		&a.Phone,
		&a.PasswordHash,
		&accountType,
		&status,
		&a.Nickname,
		&a.AvatarURL,
		&a.FailedAttempts,
		&a.LockedUntil,
		&a.LastLoginAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").With("operation", "scan account").Wrap(err)
	}

	a.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", idStr).Wrap(err)
	}
	a.Type = identity.AccountType(accountType)
	a.Status = identity.Status(status)
	return &a, nil
}

// Compile-time interface check.
var _ identity.AccountRepository = (*AccountRepository)(nil)
