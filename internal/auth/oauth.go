// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/oauth2"

	"github.com/holomush/authcore/internal/cache"
	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/identity/provider"
	"github.com/holomush/authcore/internal/token"
)

// pendingRequest is the state kept between StartOAuth and CompleteOAuth.
type pendingRequest struct {
	Provider    string               `json:"provider"`
	RedirectURI string               `json:"redirect_uri"`
	Verifier    string               `json:"verifier"`
	AccountType identity.AccountType `json:"account_type"`
}

// StartOAuth begins a provider login and returns the provider URL to send
// the browser to. redirectURI receives the login exchange code afterwards;
// empty means the configured default. accountType defaults to member; the
// caller is anonymous, so system is refused.
func (s *Service) StartOAuth(ctx context.Context, providerName, redirectURI string, accountType identity.AccountType) (string, error) {
	adapter, err := s.adapter(providerName)
	if err != nil {
		return "", err
	}
	if accountType == "" {
		accountType = identity.AccountTypeMember
	}
	if !accountType.Valid() {
		return "", oops.Code("AUTH_INVALID_REQUEST").With("account_type", string(accountType)).Errorf("unknown account type")
	}
	if accountType == identity.AccountTypeSystem {
		return "", oops.Code("PERMISSION_DENIED").
			With("account_type", string(accountType)).
			Errorf("system accounts cannot be created through provider login")
	}
	redirectURI, err = s.checkRedirect(redirectURI)
	if err != nil {
		return "", err
	}

	state, _, err := newSecret()
	if err != nil {
		return "", err
	}
	pending := pendingRequest{
		Provider:    adapter.Name(),
		RedirectURI: redirectURI,
		Verifier:    oauth2.GenerateVerifier(),
		AccountType: accountType,
	}
	raw, err := json.Marshal(pending)
	if err != nil {
		return "", oops.Code("AUTH_OAUTH_FAILED").With("operation", "encode pending request").Wrap(err)
	}
	if err := s.store.Set(ctx, cache.AuthRequestKey(state), string(raw), s.cfg.AuthRequestTTL); err != nil {
		return "", oops.Code("CACHE_UNAVAILABLE").With("operation", "store auth request").Wrap(err)
	}

	return adapter.AuthCodeURL(state, pending.Verifier), nil
}

// CompleteOAuth finishes a provider login. It consumes the pending request
// for state, exchanges the authorization code, resolves the account and
// parks a token pair behind a one-time exchange code. It returns the
// redirect URI with the exchange code appended as the "code" parameter.
func (s *Service) CompleteOAuth(ctx context.Context, providerName, state, code string) (string, error) {
	if state == "" || code == "" {
		return "", oops.Code("AUTH_STATE_INVALID").Errorf("state and code are required")
	}

	raw, err := s.store.GetDel(ctx, cache.AuthRequestKey(state))
	if errors.Is(err, cache.ErrMiss) {
		s.metrics.RecordLogin(MethodOAuth2, OutcomeFailure)
		return "", oops.Code("AUTH_STATE_INVALID").Errorf("login request is unknown or expired")
	}
	if err != nil {
		return "", oops.Code("CACHE_UNAVAILABLE").With("operation", "consume auth request").Wrap(err)
	}

	var pending pendingRequest
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return "", oops.Code("AUTH_STATE_INVALID").Wrapf(err, "corrupt login request")
	}
	if !strings.EqualFold(pending.Provider, providerName) {
		s.metrics.RecordLogin(MethodOAuth2, OutcomeFailure)
		return "", oops.Code("AUTH_STATE_INVALID").
			With("expected", pending.Provider).
			With("provider", providerName).
			Errorf("login request belongs to another provider")
	}

	adapter, err := s.adapter(pending.Provider)
	if err != nil {
		return "", err
	}
	claims, err := adapter.Exchange(ctx, code, pending.Verifier)
	if err != nil {
		s.metrics.RecordLogin(MethodOAuth2, OutcomeFailure)
		return "", err
	}
	claims.AccountType = pending.AccountType

	account, err := s.resolver.ResolveOrCreate(ctx, claims)
	if err != nil {
		s.metrics.RecordLogin(MethodOAuth2, OutcomeError)
		return "", err
	}
	session, err := s.signIn(ctx, account)
	if err != nil {
		s.metrics.RecordLogin(MethodOAuth2, OutcomeError)
		return "", err
	}

	exchange, _, err := newSecret()
	if err != nil {
		return "", err
	}
	pair, err := json.Marshal(session.Tokens)
	if err != nil {
		return "", oops.Code("AUTH_OAUTH_FAILED").With("operation", "encode token pair").Wrap(err)
	}
	if err := s.store.Set(ctx, cache.LoginExchangeKey(exchange), string(pair), s.cfg.LoginExchangeTTL); err != nil {
		return "", oops.Code("CACHE_UNAVAILABLE").With("operation", "store login exchange").Wrap(err)
	}

	s.metrics.RecordLogin(MethodOAuth2, OutcomeSuccess)
	return appendQuery(pending.RedirectURI, "code", exchange)
}

// ExchangeLogin trades a one-time exchange code for the token pair parked
// by CompleteOAuth.
func (s *Service) ExchangeLogin(ctx context.Context, code string) (token.Pair, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return token.Pair{}, oops.Code("AUTH_EXCHANGE_INVALID").Errorf("exchange code is required")
	}
	raw, err := s.store.GetDel(ctx, cache.LoginExchangeKey(code))
	if errors.Is(err, cache.ErrMiss) {
		return token.Pair{}, oops.Code("AUTH_EXCHANGE_INVALID").Errorf("exchange code is invalid or expired")
	}
	if err != nil {
		return token.Pair{}, oops.Code("CACHE_UNAVAILABLE").With("operation", "consume login exchange").Wrap(err)
	}

	var pair token.Pair
	if err := json.Unmarshal([]byte(raw), &pair); err != nil {
		return token.Pair{}, oops.Code("AUTH_EXCHANGE_INVALID").Wrapf(err, "corrupt login exchange")
	}
	return pair, nil
}

func (s *Service) adapter(name string) (provider.Adapter, error) {
	if s.providers == nil {
		return nil, oops.Code("PROVIDER_UNKNOWN").With("provider", name).Errorf("no providers are configured")
	}
	return s.providers.Get(name)
}

// checkRedirect resolves the post-login redirect and enforces the
// allowlist.
func (s *Service) checkRedirect(redirectURI string) (string, error) {
	if redirectURI == "" {
		if s.cfg.DefaultRedirect == "" {
			return "", oops.Code("AUTH_REDIRECT_NOT_ALLOWED").Errorf("redirect uri is required")
		}
		return s.cfg.DefaultRedirect, nil
	}
	u, err := url.Parse(redirectURI)
	if err != nil || !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") {
		return "", oops.Code("AUTH_REDIRECT_NOT_ALLOWED").With("redirect_uri", redirectURI).Errorf("redirect uri must be an absolute http(s) url")
	}
	if redirectURI == s.cfg.DefaultRedirect {
		return redirectURI, nil
	}
	for _, g := range s.redirects {
		if g.Match(redirectURI) {
			return redirectURI, nil
		}
	}
	return "", oops.Code("AUTH_REDIRECT_NOT_ALLOWED").With("redirect_uri", redirectURI).Errorf("redirect uri is not allowed")
}

func appendQuery(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", oops.Code("AUTH_REDIRECT_NOT_ALLOWED").With("redirect_uri", rawURL).Wrap(err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
