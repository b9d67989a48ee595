// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// AccountType distinguishes operator accounts from end users.
type AccountType string

// Account types.
const (
	AccountTypeSystem AccountType = "system"
	AccountTypeMember AccountType = "member"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	return t == AccountTypeSystem || t == AccountTypeMember
}

// Status is an account's lifecycle state.
type Status string

// Account statuses.
const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxNicknameLength = 32
)

// usernameRegex matches usernames that start with a letter and contain only
// letters, digits and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account is a canonical identity.
type Account struct {
	ID             ulid.ULID
	Handle         int64
	Username       string
	Email          *string
	Phone          *string
	PasswordHash   string
	Type           AccountType
	Status         Status
	Nickname       string
	AvatarURL      string
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HandleUsername is the generated username for an account handle.
func HandleUsername(handle int64) string {
	return "u" + strconv.FormatInt(handle, 10)
}

// Disabled reports whether the account may not sign in.
func (a *Account) Disabled() bool {
	return a.Status == StatusDisabled
}

// IsLocked reports whether the account is locked out at now.
func (a *Account) IsLocked(now time.Time) bool {
	return IsLockedOut(a.LockedUntil, now)
}

// RecordFailure increments the failure counter and sets a lockout once the
// threshold is reached.
func (a *Account) RecordFailure(now time.Time) {
	a.FailedAttempts++
	a.LockedUntil = ComputeLockoutTime(a.FailedAttempts, now)
	a.UpdatedAt = now
}

// RecordSuccess resets the failure counter and lockout and stamps the login.
func (a *Account) RecordSuccess(now time.Time) {
	a.FailedAttempts = 0
	a.LockedUntil = nil
	a.LastLoginAt = &now
	a.UpdatedAt = now
}

// EmailValue returns the email or "".
func (a *Account) EmailValue() string {
	if a.Email == nil {
		return ""
	}
	return *a.Email
}

// PhoneValue returns the phone or "".
func (a *Account) PhoneValue() string {
	if a.Phone == nil {
		return ""
	}
	return *a.Phone
}

// ValidateUsername checks length and character rules.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("IDENTITY_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("IDENTITY_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("IDENTITY_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("IDENTITY_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateNickname checks a display name.
func ValidateNickname(nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return oops.Code("IDENTITY_INVALID_NICKNAME").Errorf("nickname cannot be empty")
	}
	if len([]rune(nickname)) > MaxNicknameLength {
		return oops.Code("IDENTITY_INVALID_NICKNAME").
			With("max", MaxNicknameLength).
			Errorf("nickname must be at most %d characters", MaxNicknameLength)
	}
	return nil
}
