// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"errors"

	"github.com/samber/oops"
)

// Repository sentinels.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert or update violates a
	// uniqueness constraint.
	ErrDuplicate = errors.New("duplicate")
)

// ErrIdentityConflict is returned when a credential resolves to an account
// that cannot sign in.
var ErrIdentityConflict = oops.Code("IDENTITY_CONFLICT").Errorf("account is disabled")
