// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache

import (
	"strconv"
	"strings"
)

// Key namespaces. Every key this module writes starts with "auth:".
const (
	refreshTokenPrefix       = "auth:refresh-token:"
	accountTokensPrefix      = "auth:account-tokens:"
	accountRevocationPrefix  = "auth:account-revocation:"
	verificationCodePrefix   = "auth:verification-code:"
	permissionSnapshotPrefix = "auth:permission-snapshot:"
	permissionGenPrefix      = "auth:permission-generation:"
	authRequestPrefix        = "auth:oauth2-request:"
	loginExchangePrefix      = "auth:oauth2-exchange:"
	passwordResetPrefix      = "auth:password-reset:"

	// AccountHandleKey holds the atomic counter used for new account handles.
	AccountHandleKey = "auth:account-handle"

	// PermissionGenerationKey is bumped whenever menu structure changes so
	// every cached snapshot is superseded at once.
	PermissionGenerationKey = "auth:permission-generation"

	// PermissionSnapshotPattern matches every cached permission snapshot.
	PermissionSnapshotPattern = permissionSnapshotPrefix + "*"
)

// RefreshTokenKey is the key for a refresh token, addressed by its hash.
func RefreshTokenKey(tokenHash string) string {
	return refreshTokenPrefix + tokenHash
}

// AccountTokensKey is the set of refresh token hashes issued to an account.
func AccountTokensKey(accountID string) string {
	return accountTokensPrefix + accountID
}

// AccountRevocationKey counts how often an account's refresh tokens were
// revoked. Entries stamped with an older count are dead.
func AccountRevocationKey(accountID string) string {
	return accountRevocationPrefix + accountID
}

// VerificationCodeKey is the key for the pending code of (channel, destination).
func VerificationCodeKey(channel, destination string) string {
	return verificationCodePrefix + channel + ":" + destination
}

// PermissionSnapshotKey is the key for an account's snapshot at the given
// global and per-account generations.
func PermissionSnapshotKey(accountID string, global, account int64) string {
	var b strings.Builder
	b.WriteString(permissionSnapshotPrefix)
	b.WriteString(strconv.FormatInt(global, 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(account, 10))
	b.WriteByte(':')
	b.WriteString(accountID)
	return b.String()
}

// PermissionAccountGenerationKey is bumped when one account's grants change.
func PermissionAccountGenerationKey(accountID string) string {
	return permissionGenPrefix + accountID
}

// AuthRequestKey holds a pending OAuth2 authorization request by state.
func AuthRequestKey(state string) string {
	return authRequestPrefix + state
}

// LoginExchangeKey holds a token pair awaiting one-time exchange.
func LoginExchangeKey(code string) string {
	return loginExchangePrefix + code
}

// PasswordResetKey holds a password reset grant, addressed by token hash.
func PasswordResetKey(tokenHash string) string {
	return passwordResetPrefix + tokenHash
}
