// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import "time"

// Password failure policy.
const (
	// LockoutDuration is how long an account stays locked.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of consecutive failures that locks an
	// account.
	LockoutThreshold = 7

	// MaxFailureDelay caps the progressive delay.
	MaxFailureDelay = 32 * time.Second
)

// FailureState describes what a caller should do before the next attempt.
type FailureState struct {
	// Delay is the time to wait before answering another attempt.
	Delay time.Duration

	// IsLockedOut indicates the account is temporarily locked.
	IsLockedOut bool

	// LockoutRemaining is the time until the lockout expires.
	LockoutRemaining time.Duration
}

// CheckFailures evaluates the failure policy at now.
func CheckFailures(failures int, lockedUntil *time.Time, now time.Time) FailureState {
	var state FailureState

	if IsLockedOut(lockedUntil, now) {
		state.IsLockedOut = true
		state.LockoutRemaining = lockedUntil.Sub(now)
		return state
	}

	// 2^(failures-1) seconds
	if failures > 0 && failures < LockoutThreshold {
		state.Delay = min(time.Duration(1<<(failures-1))*time.Second, MaxFailureDelay)
	}

	if failures >= LockoutThreshold {
		state.IsLockedOut = true
		state.LockoutRemaining = LockoutDuration
	}
	return state
}

// IsLockedOut reports whether lockedUntil is after now.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// ComputeLockoutTime returns the lockout deadline for the failure count, or
// nil below the threshold.
func ComputeLockoutTime(failures int, now time.Time) *time.Time {
	if failures < LockoutThreshold {
		return nil
	}
	until := now.Add(LockoutDuration)
	return &until
}
