// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Binding links an account to an identity at an external provider.
// (Provider, OpenID) is unique.
type Binding struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	Provider  string
	OpenID    string
	UnionID   *string
	RawClaims json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UnionIDValue returns the union id or "".
func (b *Binding) UnionIDValue() string {
	if b.UnionID == nil {
		return ""
	}
	return *b.UnionID
}

func newBinding(accountID ulid.ULID, c Claims, now time.Time) *Binding {
	return &Binding{
		ID:        ulid.Make(),
		AccountID: accountID,
		Provider:  c.Provider,
		OpenID:    c.OpenID,
		UnionID:   optional(c.UnionID),
		RawClaims: c.rawJSON(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
