// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/holomush/authcore/internal/identity"
)

// Adapter drives one provider's authorization-code flow.
type Adapter interface {
	Name() string
	// AuthCodeURL returns the provider consent URL. The verifier's S256
	// challenge is attached when verifier is non-empty.
	AuthCodeURL(state, verifier string) string
	// Exchange redeems an authorization code for the user's claims.
	Exchange(ctx context.Context, code, verifier string) (identity.Claims, error)
}

func oauthConfig(cfg Config, endpoint oauth2.Endpoint) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	}
}

func authCodeURL(oc *oauth2.Config, state, verifier string) string {
	if verifier == "" {
		return oc.AuthCodeURL(state)
	}
	return oc.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func exchangeOptions(verifier string) []oauth2.AuthCodeOption {
	if verifier == "" {
		return nil
	}
	return []oauth2.AuthCodeOption{oauth2.VerifierOption(verifier)}
}

// mapClaims projects a raw claim set through the mapping.
func mapClaims(name string, m Mapping, raw map[string]any) identity.Claims {
	return identity.Claims{
		Provider:  name,
		OpenID:    stringClaim(raw, m.OpenID),
		UnionID:   stringClaim(raw, m.UnionID),
		Email:     stringClaim(raw, m.Email),
		Phone:     stringClaim(raw, m.Phone),
		Nickname:  stringClaim(raw, m.Nickname),
		AvatarURL: stringClaim(raw, m.Avatar),
		Raw:       raw,
	}
}

// stringClaim renders scalar claims as strings. Numeric ids are common.
func stringClaim(raw map[string]any, key string) string {
	if key == "" {
		return ""
	}
	switch v := raw[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
