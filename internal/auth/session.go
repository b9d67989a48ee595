// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/permission"
	"github.com/holomush/authcore/internal/token"
	"github.com/holomush/authcore/pkg/errutil"
)

// Profile is the authorization payload of a signed-in account.
type Profile struct {
	Account     *identity.Account
	Roles       []string
	Permissions []string
	Menus       []*permission.MenuNode
}

// Refresh rotates a refresh token into a new pair. The new access token
// carries the account's current roles; a disabled account fails with
// IDENTITY_CONFLICT and loses its remaining refresh tokens.
func (s *Service) Refresh(ctx context.Context, refresh string) (token.Pair, error) {
	pair, err := s.tokens.Rotate(ctx, strings.TrimSpace(refresh))
	switch {
	case err == nil:
		s.metrics.RecordRotation(OutcomeSuccess)
	case errutil.Code(err) == "TOKEN_INVALID", errutil.Code(err) == "IDENTITY_CONFLICT":
		s.metrics.RecordRotation(OutcomeFailure)
	default:
		s.metrics.RecordRotation(OutcomeError)
	}
	return pair, err
}

// Logout revokes every refresh token of the account. Access tokens already
// handed out stay valid until they expire.
func (s *Service) Logout(ctx context.Context, accountID string) error {
	if err := s.tokens.Revoke(ctx, accountID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "account signed out", "account_id", accountID)
	return nil
}

// WhoAmI returns the account with its effective permissions and the menu
// tree under the root.
func (s *Service) WhoAmI(ctx context.Context, accountID string) (*Profile, error) {
	account, err := s.accountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Disabled() {
		return nil, oops.Code("IDENTITY_CONFLICT").
			With("account_id", accountID).
			Wrap(identity.ErrIdentityConflict)
	}

	snapshot, err := s.permissions.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		Account:     account,
		Roles:       snapshot.Roles,
		Permissions: snapshot.Permissions,
		Menus:       permission.BuildTree(snapshot.Menus, 0),
	}, nil
}

// NicknameAvailable reports whether nickname is valid and unused.
func (s *Service) NicknameAvailable(ctx context.Context, nickname string) (bool, error) {
	nickname = strings.TrimSpace(nickname)
	if err := identity.ValidateNickname(nickname); err != nil {
		return false, err
	}
	taken, err := s.accounts.NicknameTaken(ctx, nickname)
	if err != nil {
		return false, oops.Code("AUTH_LOOKUP_FAILED").With("operation", "check nickname").Wrap(err)
	}
	return !taken, nil
}

func (s *Service) accountByID(ctx context.Context, accountID string) (*identity.Account, error) {
	id, err := ulid.ParseStrict(accountID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", accountID).Wrap(err)
	}
	account, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", accountID).Errorf("account not found")
	}
	if err != nil {
		return nil, oops.Code("AUTH_LOOKUP_FAILED").With("account_id", accountID).Wrap(err)
	}
	return account, nil
}
