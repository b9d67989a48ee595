// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/samber/oops"
	"golang.org/x/oauth2"

	"github.com/holomush/authcore/internal/identity"
)

const maxUserInfoBytes = 1 << 20

// OAuth2Adapter authenticates against a plain OAuth2 provider and reads the
// profile from its userinfo endpoint.
type OAuth2Adapter struct {
	cfg   Config
	oauth *oauth2.Config
}

// NewOAuth2Adapter builds an adapter from explicit endpoints.
func NewOAuth2Adapter(cfg Config) *OAuth2Adapter {
	return &OAuth2Adapter{
		cfg: cfg,
		oauth: oauthConfig(cfg, oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		}),
	}
}

// Name implements Adapter.
func (a *OAuth2Adapter) Name() string { return a.cfg.Name }

// AuthCodeURL implements Adapter.
func (a *OAuth2Adapter) AuthCodeURL(state, verifier string) string {
	return authCodeURL(a.oauth, state, verifier)
}

// Exchange implements Adapter.
func (a *OAuth2Adapter) Exchange(ctx context.Context, code, verifier string) (identity.Claims, error) {
	errb := oops.Code("PROVIDER_EXCHANGE_FAILED").With("provider", a.cfg.Name)

	tok, err := a.oauth.Exchange(ctx, code, exchangeOptions(verifier)...)
	if err != nil {
		return identity.Claims{}, errb.Wrap(err)
	}

	raw, err := a.userInfo(ctx, tok)
	if err != nil {
		return identity.Claims{}, errb.Wrap(err)
	}
	for _, field := range a.cfg.TokenFields {
		if _, present := raw[field]; present {
			continue
		}
		if v := tok.Extra(field); v != nil && v != "" {
			raw[field] = v
		}
	}
	return mapClaims(a.cfg.Name, a.cfg.Mapping, raw), nil
}

func (a *OAuth2Adapter) userInfo(ctx context.Context, tok *oauth2.Token) (map[string]any, error) {
	u, err := url.Parse(a.cfg.UserInfoURL)
	if err != nil {
		return nil, oops.With("userinfo_url", a.cfg.UserInfoURL).Wrap(err)
	}
	if len(a.cfg.UserInfoParams) > 0 {
		q := u.Query()
		for param, field := range a.cfg.UserInfoParams {
			if v := stringClaim(map[string]any{field: tok.Extra(field)}, field); v != "" {
				q.Set(param, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, oops.Wrap(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, oops.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, oops.With("status", resp.StatusCode).Errorf("userinfo request failed")
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes))
	dec.UseNumber()
	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return nil, oops.Wrapf(err, "decode userinfo")
	}
	if code, ok := raw["errcode"]; ok && stringClaim(raw, "errcode") != "0" {
		return nil, oops.With("errcode", code).With("errmsg", raw["errmsg"]).Errorf("provider returned an error")
	}
	return raw, nil
}
