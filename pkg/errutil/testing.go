// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err carries the given oops code.
func AssertErrorCode(tb testing.TB, err error, code string) bool {
	tb.Helper()
	if !assert.Error(tb, err, "expected error with code %s", code) {
		return false
	}
	return assert.Equal(tb, code, Code(err), "error: %v", err)
}

// RequireErrorCode is AssertErrorCode that stops the test on mismatch.
func RequireErrorCode(tb testing.TB, err error, code string) {
	tb.Helper()
	require.Error(tb, err, "expected error with code %s", code)
	require.Equal(tb, code, Code(err), "error: %v", err)
}

// AssertErrorContext asserts that err is an oops error with the given
// context key/value.
func AssertErrorContext(tb testing.TB, err error, key string, value any) bool {
	tb.Helper()
	oopsErr, ok := oops.AsOops(err)
	if !assert.True(tb, ok, "expected oops error, got %T", err) {
		return false
	}
	ctx := oopsErr.Context()
	if !assert.Contains(tb, ctx, key) {
		return false
	}
	return assert.Equal(tb, value, ctx[key])
}
