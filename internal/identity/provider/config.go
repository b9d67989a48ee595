// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package provider turns external login providers' payloads into
// identity.Claims. Only the mapping is owned here; endpoints and wire
// formats come from configuration.
package provider

import (
	"github.com/samber/oops"
)

// Kind selects the adapter implementation.
type Kind string

// Supported kinds.
const (
	KindOIDC   Kind = "oidc"
	KindOAuth2 Kind = "oauth2"
)

// Mapping names the claim fields that populate identity.Claims.
type Mapping struct {
	OpenID   string `koanf:"open_id" json:"open_id,omitempty"`
	UnionID  string `koanf:"union_id" json:"union_id,omitempty"`
	Email    string `koanf:"email" json:"email,omitempty"`
	Phone    string `koanf:"phone" json:"phone,omitempty"`
	Nickname string `koanf:"nickname" json:"nickname,omitempty"`
	Avatar   string `koanf:"avatar" json:"avatar,omitempty"`
}

// Config describes one provider.
type Config struct {
	Name         string   `koanf:"name" json:"name" jsonschema:"required"`
	Preset       string   `koanf:"preset" json:"preset,omitempty" jsonschema:"enum=,enum=github,enum=google,enum=wechat"`
	Kind         Kind     `koanf:"kind" json:"kind,omitempty" jsonschema:"enum=,enum=oidc,enum=oauth2"`
	ClientID     string   `koanf:"client_id" json:"client_id"`
	ClientSecret string   `koanf:"client_secret" json:"client_secret,omitempty"`
	IssuerURL    string   `koanf:"issuer_url" json:"issuer_url,omitempty"`
	AuthURL      string   `koanf:"auth_url" json:"auth_url,omitempty"`
	TokenURL     string   `koanf:"token_url" json:"token_url,omitempty"`
	UserInfoURL  string   `koanf:"userinfo_url" json:"userinfo_url,omitempty"`
	RedirectURL  string   `koanf:"redirect_url" json:"redirect_url"`
	Scopes       []string `koanf:"scopes" json:"scopes,omitempty"`
	// SupportsUnion marks providers whose union id groups several open ids
	// of the same person.
	SupportsUnion bool `koanf:"supports_union" json:"supports_union,omitempty"`
	// TokenFields are token-response fields copied into the claim set, for
	// providers that return identity data alongside the access token.
	TokenFields []string `koanf:"token_fields" json:"token_fields,omitempty"`
	// UserInfoParams adds query parameters to the userinfo request, mapping
	// parameter name to a token-response field.
	UserInfoParams map[string]string `koanf:"userinfo_params" json:"userinfo_params,omitempty"`
	Mapping        Mapping           `koanf:"mapping" json:"mapping,omitempty"`
}

// Resolve fills unset fields from the named preset.
func (c Config) Resolve() (Config, error) {
	if c.Preset == "" {
		return c, nil
	}
	base, ok := Preset(c.Preset)
	if !ok {
		return c, oops.Code("PROVIDER_UNKNOWN_PRESET").With("preset", c.Preset).Errorf("unknown provider preset")
	}
	if c.Kind == "" {
		c.Kind = base.Kind
	}
	c.IssuerURL = firstNonEmpty(c.IssuerURL, base.IssuerURL)
	c.AuthURL = firstNonEmpty(c.AuthURL, base.AuthURL)
	c.TokenURL = firstNonEmpty(c.TokenURL, base.TokenURL)
	c.UserInfoURL = firstNonEmpty(c.UserInfoURL, base.UserInfoURL)
	if len(c.Scopes) == 0 {
		c.Scopes = base.Scopes
	}
	if len(c.TokenFields) == 0 {
		c.TokenFields = base.TokenFields
	}
	if len(c.UserInfoParams) == 0 {
		c.UserInfoParams = base.UserInfoParams
	}
	c.SupportsUnion = c.SupportsUnion || base.SupportsUnion
	c.Mapping = Mapping{
		OpenID:   firstNonEmpty(c.Mapping.OpenID, base.Mapping.OpenID),
		UnionID:  firstNonEmpty(c.Mapping.UnionID, base.Mapping.UnionID),
		Email:    firstNonEmpty(c.Mapping.Email, base.Mapping.Email),
		Phone:    firstNonEmpty(c.Mapping.Phone, base.Mapping.Phone),
		Nickname: firstNonEmpty(c.Mapping.Nickname, base.Mapping.Nickname),
		Avatar:   firstNonEmpty(c.Mapping.Avatar, base.Mapping.Avatar),
	}
	return c, nil
}

// Validate checks a resolved config.
func (c Config) Validate() error {
	fail := func(msg string) error {
		return oops.Code("PROVIDER_INVALID_CONFIG").With("provider", c.Name).Errorf("%s", msg)
	}
	if c.Name == "" {
		return fail("name is required")
	}
	if c.ClientID == "" {
		return fail("client_id is required")
	}
	if c.RedirectURL == "" {
		return fail("redirect_url is required")
	}
	switch c.Kind {
	case KindOIDC:
		if c.IssuerURL == "" {
			return fail("issuer_url is required for oidc")
		}
	case KindOAuth2:
		if c.AuthURL == "" || c.TokenURL == "" || c.UserInfoURL == "" {
			return fail("auth_url, token_url and userinfo_url are required for oauth2")
		}
	default:
		return fail("kind must be oidc or oauth2")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
