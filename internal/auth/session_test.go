// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/permission"
	"github.com/holomush/authcore/pkg/errutil"
)

func mustParse(t *testing.T, id string) ulid.ULID {
	t.Helper()
	parsed, err := ulid.ParseStrict(id)
	require.NoError(t, err)
	return parsed
}

func TestRefreshRotationScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "alice", "correct horse")

	first, err := f.svc.LoginWithPassword(ctx, "alice", "correct horse")
	require.NoError(t, err)

	second, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.Tokens.RefreshToken, second.RefreshToken)
	_, err = f.tokens.Validate(second.AccessToken)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	errutil.AssertErrorCode(t, err, "TOKEN_INVALID")

	assert.Equal(t, 1, f.metrics.count("rotation:success"))
	assert.Equal(t, 1, f.metrics.count("rotation:failure"))
}

func TestRefreshRejectsDisabledAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed(t, "alice", "correct horse")

	first, err := f.svc.LoginWithPassword(ctx, "alice", "correct horse")
	require.NoError(t, err)
	other, err := f.svc.LoginWithPassword(ctx, "alice", "correct horse")
	require.NoError(t, err)

	a.Status = identity.StatusDisabled
	f.db.Put(a)

	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	errutil.AssertErrorCode(t, err, "IDENTITY_CONFLICT")

	for range 3 {
		_, err = f.svc.Refresh(ctx, other.Tokens.RefreshToken)
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID")
	}

	a.Status = identity.StatusActive
	f.db.Put(a)
	_, err = f.svc.Refresh(ctx, other.Tokens.RefreshToken)
	errutil.AssertErrorCode(t, err, "TOKEN_INVALID")
	assert.Equal(t, 0, f.metrics.count("rotation:success"))
	assert.Equal(t, 5, f.metrics.count("rotation:failure"))
}

func TestRefreshRejectsDeletedAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "alice", "correct horse")

	session, err := f.svc.LoginWithPassword(ctx, "alice", "correct horse")
	require.NoError(t, err)
	f.db.Delete(session.Account.ID)

	_, err = f.svc.Refresh(ctx, session.Tokens.RefreshToken)
	errutil.AssertErrorCode(t, err, "TOKEN_INVALID")
}

func TestRefreshCarriesCurrentRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed(t, "alice", "correct horse")

	session, err := f.svc.LoginWithPassword(ctx, "alice", "correct horse")
	require.NoError(t, err)
	claims, err := f.tokens.Validate(session.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"member"}, claims.Roles)

	f.source.setRoles(permission.Role{ID: 2, Code: "auditor", Name: "Auditor", Permission: "AUDIT", Status: permission.StatusActive})
	require.NoError(t, f.assembler.InvalidateAccount(ctx, a.ID.String()))

	pair, err := f.svc.Refresh(ctx, session.Tokens.RefreshToken)
	require.NoError(t, err)
	claims, err = f.tokens.Validate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"auditor"}, claims.Roles)
	assert.False(t, claims.HasRole("member"), "a revoked role is not carried into the new token")
}

func TestLogoutRevokesRefreshTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed(t, "alice", "correct horse")

	one, err := f.svc.LoginWithPassword(ctx, "alice", "correct horse")
	require.NoError(t, err)
	two, err := f.svc.LoginWithPassword(ctx, "alice", "correct horse")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, a.ID.String()))

	for _, s := range [][2]string{{"first", one.Tokens.RefreshToken}, {"second", two.Tokens.RefreshToken}} {
		_, err := f.svc.Refresh(ctx, s[1])
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID")
	}
}

func TestWhoAmI(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed(t, "alice", "correct horse")

	profile, err := f.svc.WhoAmI(ctx, a.ID.String())
	require.NoError(t, err)
	assert.Equal(t, a.ID, profile.Account.ID)
	assert.Equal(t, []string{"member"}, profile.Roles)
	assert.Equal(t, []string{"ROLE_MEMBER", permission.BaselinePermission, "home:edit", "home:view"}, profile.Permissions)
	require.Len(t, profile.Menus, 1)
	assert.Equal(t, "Home", profile.Menus[0].Label)
	require.Len(t, profile.Menus[0].Children, 1)
	assert.Equal(t, "Edit", profile.Menus[0].Children[0].Label)
}

func TestWhoAmI_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	disabled := f.seed(t, "mallory", "correct horse", func(a *identity.Account) { a.Status = identity.StatusDisabled })

	_, err := f.svc.WhoAmI(ctx, "not-a-ulid")
	errutil.AssertErrorCode(t, err, "ACCOUNT_NOT_FOUND")
	_, err = f.svc.WhoAmI(ctx, ulid.Make().String())
	errutil.AssertErrorCode(t, err, "ACCOUNT_NOT_FOUND")
	_, err = f.svc.WhoAmI(ctx, disabled.ID.String())
	errutil.AssertErrorCode(t, err, "IDENTITY_CONFLICT")
}

func TestNicknameAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "alice", "correct horse")

	free, err := f.svc.NicknameAvailable(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, free)

	free, err = f.svc.NicknameAvailable(ctx, " alice ")
	require.NoError(t, err)
	assert.False(t, free)

	_, err = f.svc.NicknameAvailable(ctx, "")
	errutil.AssertErrorCode(t, err, "IDENTITY_INVALID_NICKNAME")
}
