// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package token

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Principal is the subject a token pair is issued for.
type Principal struct {
	AccountID   string   `json:"account_id"`
	AccountType string   `json:"account_type"`
	Roles       []string `json:"roles,omitempty"`
}

func (p Principal) validate() error {
	if p.AccountID == "" {
		return oops.Code("TOKEN_PRINCIPAL_INVALID").Errorf("account ID cannot be empty")
	}
	return nil
}

// Claims is the payload of an access token.
type Claims struct {
	AccountType string   `json:"typ,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the subject.
func (c *Claims) AccountID() string {
	return c.Subject
}

// HasRole reports whether role was granted when the token was issued.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Principal rebuilds the principal the token was issued for.
func (c *Claims) Principal() Principal {
	return Principal{
		AccountID:   c.Subject,
		AccountType: c.AccountType,
		Roles:       slices.Clone(c.Roles),
	}
}
