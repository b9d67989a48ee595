// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"encoding/json"
	"strings"

	"github.com/samber/oops"
)

// Built-in providers for first-party credentials. A verified phone number or
// mailbox is bound like any external identity, with the destination as the
// open id.
const (
	ProviderPhone = "phone"
	ProviderEmail = "email"
)

// Claims describe an authenticated identity as asserted by a provider.
type Claims struct {
	Provider    string
	OpenID      string
	UnionID     string
	Email       string
	Phone       string
	Nickname    string
	AvatarURL   string
	AccountType AccountType
	Raw         map[string]any
}

// Normalize trims fields and lowercases the email.
func (c *Claims) Normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.OpenID = strings.TrimSpace(c.OpenID)
	c.UnionID = strings.TrimSpace(c.UnionID)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = strings.ReplaceAll(strings.TrimSpace(c.Phone), " ", "")
	c.Nickname = strings.TrimSpace(c.Nickname)
	c.AvatarURL = strings.TrimSpace(c.AvatarURL)
	if c.AccountType == "" {
		c.AccountType = AccountTypeMember
	}
}

// Validate checks the fields every resolution needs.
func (c *Claims) Validate() error {
	if c.Provider == "" {
		return oops.Code("IDENTITY_INVALID_CLAIMS").Errorf("provider is required")
	}
	if c.OpenID == "" {
		return oops.Code("IDENTITY_INVALID_CLAIMS").With("provider", c.Provider).Errorf("open id is required")
	}
	if !c.AccountType.Valid() {
		return oops.Code("IDENTITY_INVALID_CLAIMS").
			With("account_type", string(c.AccountType)).
			Errorf("unknown account type")
	}
	return nil
}

func (c *Claims) rawJSON() json.RawMessage {
	if len(c.Raw) == 0 {
		return nil
	}
	b, err := json.Marshal(c.Raw)
	if err != nil {
		return nil
	}
	return b
}
