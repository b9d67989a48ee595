// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/pkg/errutil"
)

func TestNewPrincipalLoader_RequiresDeps(t *testing.T) {
	f := newFixture(t)

	_, err := auth.NewPrincipalLoader(nil, f.assembler)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_CONFIG")
	_, err = auth.NewPrincipalLoader(f.db.Accounts(), nil)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_CONFIG")
}

func TestPrincipalLoader_LoadPrincipal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loader, err := auth.NewPrincipalLoader(f.db.Accounts(), f.assembler)
	require.NoError(t, err)

	active := f.seed(t, "alice", "correct horse")
	disabled := f.seed(t, "mallory", "correct horse", func(a *identity.Account) { a.Status = identity.StatusDisabled })

	p, err := loader.LoadPrincipal(ctx, active.ID.String())
	require.NoError(t, err)
	assert.Equal(t, active.ID.String(), p.AccountID)
	assert.Equal(t, string(identity.AccountTypeMember), p.AccountType)
	assert.Equal(t, []string{"member"}, p.Roles)

	_, err = loader.LoadPrincipal(ctx, disabled.ID.String())
	errutil.AssertErrorCode(t, err, "IDENTITY_CONFLICT")
	assert.ErrorIs(t, err, identity.ErrIdentityConflict)

	_, err = loader.LoadPrincipal(ctx, ulid.Make().String())
	errutil.AssertErrorCode(t, err, "TOKEN_INVALID")
	_, err = loader.LoadPrincipal(ctx, "not-a-ulid")
	errutil.AssertErrorCode(t, err, "TOKEN_INVALID")
}
