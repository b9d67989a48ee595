// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package provider

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/samber/oops"
	"golang.org/x/oauth2"

	"github.com/holomush/authcore/internal/identity"
)

// OIDCAdapter authenticates against an OpenID Connect issuer and trusts
// only the verified id_token.
type OIDCAdapter struct {
	cfg      Config
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewOIDCAdapter runs discovery against the issuer.
func NewOIDCAdapter(ctx context.Context, cfg Config) (*OIDCAdapter, error) {
	p, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, oops.Code("PROVIDER_DISCOVERY_FAILED").
			With("provider", cfg.Name).
			With("issuer", cfg.IssuerURL).
			Wrap(err)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if cfg.Mapping.OpenID == "" {
		cfg.Mapping.OpenID = "sub"
	}
	if cfg.Mapping.Email == "" {
		cfg.Mapping.Email = "email"
	}
	if cfg.Mapping.Nickname == "" {
		cfg.Mapping.Nickname = "name"
	}
	if cfg.Mapping.Avatar == "" {
		cfg.Mapping.Avatar = "picture"
	}
	if cfg.Mapping.Phone == "" {
		cfg.Mapping.Phone = "phone_number"
	}
	return &OIDCAdapter{
		cfg:      cfg,
		oauth:    oauthConfig(cfg, p.Endpoint()),
		verifier: p.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// Name implements Adapter.
func (a *OIDCAdapter) Name() string { return a.cfg.Name }

// AuthCodeURL implements Adapter.
func (a *OIDCAdapter) AuthCodeURL(state, verifier string) string {
	return authCodeURL(a.oauth, state, verifier)
}

// Exchange implements Adapter.
func (a *OIDCAdapter) Exchange(ctx context.Context, code, verifier string) (identity.Claims, error) {
	errb := oops.Code("PROVIDER_EXCHANGE_FAILED").With("provider", a.cfg.Name)

	tok, err := a.oauth.Exchange(ctx, code, exchangeOptions(verifier)...)
	if err != nil {
		return identity.Claims{}, errb.Wrap(err)
	}
	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		return identity.Claims{}, errb.Errorf("token response has no id_token")
	}
	idToken, err := a.verifier.Verify(ctx, rawID)
	if err != nil {
		return identity.Claims{}, oops.Code("PROVIDER_TOKEN_INVALID").With("provider", a.cfg.Name).Wrap(err)
	}

	raw := map[string]any{}
	if err := idToken.Claims(&raw); err != nil {
		return identity.Claims{}, errb.Wrap(err)
	}
	claims := mapClaims(a.cfg.Name, a.cfg.Mapping, raw)
	if verified, ok := raw["email_verified"].(bool); ok && !verified {
		claims.Email = ""
	}
	return claims, nil
}
