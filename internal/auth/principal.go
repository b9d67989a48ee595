// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/token"
)

// PrincipalLoader rebuilds a token principal from the account's current
// record and grants. The token service calls it on every rotation, so a
// disabled account or a revoked role stops at the next refresh.
type PrincipalLoader struct {
	accounts    identity.AccountRepository
	permissions Permissions
}

// NewPrincipalLoader creates a loader over the account store and the
// permission assembler.
func NewPrincipalLoader(accounts identity.AccountRepository, permissions Permissions) (*PrincipalLoader, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("account repository is required")
	}
	if permissions == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("permission assembler is required")
	}
	return &PrincipalLoader{accounts: accounts, permissions: permissions}, nil
}

// LoadPrincipal returns the principal of accountID. A missing account fails
// with TOKEN_INVALID and a disabled one with IDENTITY_CONFLICT.
func (l *PrincipalLoader) LoadPrincipal(ctx context.Context, accountID string) (token.Principal, error) {
	id, err := ulid.ParseStrict(accountID)
	if err != nil {
		return token.Principal{}, oops.Code("TOKEN_INVALID").With("account_id", accountID).Wrap(err)
	}
	account, err := l.accounts.GetByID(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return token.Principal{}, oops.Code("TOKEN_INVALID").With("account_id", accountID).Errorf("account no longer exists")
	}
	if err != nil {
		return token.Principal{}, oops.Code("AUTH_LOOKUP_FAILED").With("account_id", accountID).Wrap(err)
	}
	if account.Disabled() {
		return token.Principal{}, oops.Code("IDENTITY_CONFLICT").
			With("account_id", accountID).
			Wrap(identity.ErrIdentityConflict)
	}
	return principalOf(ctx, l.permissions, account)
}

func principalOf(ctx context.Context, permissions Permissions, account *identity.Account) (token.Principal, error) {
	snapshot, err := permissions.Snapshot(ctx, account.ID.String())
	if err != nil {
		return token.Principal{}, err
	}
	return token.Principal{
		AccountID:   account.ID.String(),
		AccountType: string(account.Type),
		Roles:       snapshot.Roles,
	}, nil
}
