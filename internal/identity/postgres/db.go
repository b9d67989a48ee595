// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the identity repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/identity"
)

// poolIface is satisfied by *pgxpool.Pool and pgxmock.PgxPoolIface.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// execer runs statements on a pool or inside a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func uniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return pgErr, true
	}
	return nil, false
}

// writeErr maps a unique violation to identity.ErrDuplicate and wraps
// everything else under code.
func writeErr(err error, code, operation string) error {
	if pgErr, ok := uniqueViolation(err); ok {
		return oops.Code("IDENTITY_DUPLICATE").
			With("operation", operation).
			With("constraint", pgErr.ConstraintName).
			Wrap(identity.ErrDuplicate)
	}
	return oops.Code(code).With("operation", operation).Wrap(err)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// jsonArg passes empty raw JSON as SQL NULL.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
