// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/identity"
)

const bindingColumns = `id, account_id, provider, open_id, union_id, raw_claims, created_at, updated_at`

// BindingRepository implements identity.BindingRepository using PostgreSQL.
type BindingRepository struct {
	pool poolIface
}

// NewBindingRepository creates a new BindingRepository.
func NewBindingRepository(pool poolIface) *BindingRepository {
	return &BindingRepository{pool: pool}
}

// GetByOpenID retrieves the binding for (provider, openID).
func (r *BindingRepository) GetByOpenID(ctx context.Context, provider, openID string) (*identity.Binding, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+bindingColumns+` FROM provider_bindings WHERE provider = $1 AND open_id = $2`,
		provider, openID)
	b, err := scanBinding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("BINDING_NOT_FOUND").With("provider", provider).Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("BINDING_GET_FAILED").
			With("operation", "get binding by open id").
			With("provider", provider).
			Wrap(err)
	}
	return b, nil
}

// GetByUnionID retrieves the most recently updated binding carrying unionID.
func (r *BindingRepository) GetByUnionID(ctx context.Context, provider, unionID string) (*identity.Binding, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+bindingColumns+` FROM provider_bindings WHERE provider = $1 AND union_id = $2 ORDER BY updated_at DESC LIMIT 1`,
		provider, unionID)
	b, err := scanBinding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("BINDING_NOT_FOUND").With("provider", provider).Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("BINDING_GET_FAILED").
			With("operation", "get binding by union id").
			With("provider", provider).
			Wrap(err)
	}
	return b, nil
}

// ListByAccount returns every binding of an account, oldest first.
func (r *BindingRepository) ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*identity.Binding, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bindingColumns+` FROM provider_bindings WHERE account_id = $1 ORDER BY created_at`,
		accountID.String())
	if err != nil {
		return nil, oops.Code("BINDING_LIST_FAILED").With("account_id", accountID.String()).Wrap(err)
	}
	defer rows.Close()

	var bindings []*identity.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("BINDING_LIST_FAILED").With("operation", "iterate bindings").Wrap(err)
	}
	return bindings, nil
}

// Create stores a binding.
func (r *BindingRepository) Create(ctx context.Context, b *identity.Binding) error {
	if err := insertBinding(ctx, r.pool, b); err != nil {
		return writeErr(err, "BINDING_CREATE_FAILED", "insert binding")
	}
	return nil
}

func insertBinding(ctx context.Context, db execer, b *identity.Binding) error {
	_, err := db.Exec(ctx, `
		INSERT INTO provider_bindings (id, account_id, provider, open_id, union_id, raw_claims, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		b.ID.String(),
		b.AccountID.String(),
		b.Provider,
		b.OpenID,
		b.UnionID,
		jsonArg(b.RawClaims),
		b.CreatedAt,
		b.UpdatedAt,
	)
	return err //nolint:wrapcheck // callers classify
}

// UpdateOpenID rewrites a binding's open id.
func (r *BindingRepository) UpdateOpenID(ctx context.Context, id ulid.ULID, openID string, raw json.RawMessage, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE provider_bindings SET open_id = $2, raw_claims = COALESCE($3, raw_claims), updated_at = $4
		WHERE id = $1
	`, id.String(), openID, jsonArg(raw), at)
	if err != nil {
		return writeErr(err, "BINDING_UPDATE_FAILED", "update open id")
	}
	if result.RowsAffected() == 0 {
		return oops.Code("BINDING_NOT_FOUND").With("id", id.String()).Wrap(identity.ErrNotFound)
	}
	return nil
}

// UpdateMetadata rewrites a binding's union id and raw claims snapshot.
func (r *BindingRepository) UpdateMetadata(ctx context.Context, id ulid.ULID, unionID *string, raw json.RawMessage, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE provider_bindings SET union_id = $2, raw_claims = COALESCE($3, raw_claims), updated_at = $4
		WHERE id = $1
	`, id.String(), unionID, jsonArg(raw), at)
	if err != nil {
		return oops.Code("BINDING_UPDATE_FAILED").
			With("operation", "update metadata").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("BINDING_NOT_FOUND").With("id", id.String()).Wrap(identity.ErrNotFound)
	}
	return nil
}

func scanBinding(row pgx.Row) (*identity.Binding, error) {
	var (
		idStr, accountStr string
		b                 identity.Binding
		raw               []byte
	)
	err := row.Scan(&idStr, &accountStr, &b.Provider, &b.OpenID, &b.UnionID, &raw, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("BINDING_SCAN_FAILED").With("operation", "scan binding").Wrap(err)
	}
	if b.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("BINDING_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if b.AccountID, err = ulid.Parse(accountStr); err != nil {
		return nil, oops.Code("BINDING_INVALID_ID").With("account_id", accountStr).Wrap(err)
	}
	if len(raw) > 0 {
		b.RawClaims = raw
	}
	return &b, nil
}

// Compile-time interface check.
var _ identity.BindingRepository = (*BindingRepository)(nil)
