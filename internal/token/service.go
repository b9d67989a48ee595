// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package token

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/cache"
	"github.com/holomush/authcore/pkg/errutil"
)

// Defaults for Config.
const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour
	DefaultIssuer     = "authcore"
	MinSecretLength   = 32
	TokenTypeBearer   = "Bearer"
)

// ErrTokenInvalid is returned by Rotate for an absent, expired or already
// rotated refresh token.
var ErrTokenInvalid = oops.Code("TOKEN_INVALID").Errorf("refresh token is invalid or expired")

// errRevokedDuringIssue reports a pair discarded because the account was
// signed out while it was being minted.
var errRevokedDuringIssue = oops.Code("TOKEN_INVALID").Errorf("account was signed out while the token was issued")

// Config holds signing and lifetime settings.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Pair is an issued access/refresh token pair.
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Invalidator drops cached authorization state for an account.
type Invalidator interface {
	InvalidateAccount(ctx context.Context, accountID string) error
}

// PrincipalLoader rebuilds the principal of an account from the durable
// store. Rotate calls it so account status and role grants are re-read on
// every refresh.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, accountID string) (Principal, error)
}

// refreshEntry is the cached value of a refresh token. Generation is the
// account's revocation count when the token was minted.
type refreshEntry struct {
	Principal
	Generation int64 `json:"gen"`
}

// Service issues, rotates, validates and revokes token pairs.
type Service struct {
	store       cache.Store
	secret      []byte
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	parser      *jwt.Parser
	invalidator Invalidator
	loader      PrincipalLoader
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithInvalidator sets the hook Revoke calls to drop permission snapshots.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// WithPrincipalLoader makes Rotate issue from the account's current state
// instead of the principal recorded at sign-in.
func WithPrincipalLoader(l PrincipalLoader) Option {
	return func(s *Service) { s.loader = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a token service.
func NewService(store cache.Store, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, oops.Code("TOKEN_INVALID_CONFIG").Errorf("cache store is required")
	}
	if len(cfg.Secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_INVALID_CONFIG").
			With("min_length", MinSecretLength).
			Errorf("signing secret is too short")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	s := &Service{
		store:      store,
		secret:     cfg.Secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	return s, nil
}

// Issue creates a new pair for p.
func (s *Service) Issue(ctx context.Context, p Principal) (Pair, error) {
	if err := p.validate(); err != nil {
		return Pair{}, err
	}
	gen, err := s.generation(ctx, p.AccountID)
	if err != nil {
		return Pair{}, err
	}
	return s.issue(ctx, p, gen)
}

// issue mints a pair stamped with the revocation generation gen. If a
// Revoke lands while the refresh token is being stored, the pair is
// discarded.
func (s *Service) issue(ctx context.Context, p Principal, gen int64) (Pair, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	claims := &Claims{
		AccountType: p.AccountType,
		Roles:       p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   p.AccountID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Pair{}, oops.Code("TOKEN_SIGN_FAILED").With("account_id", p.AccountID).Wrap(err)
	}

	refresh, hash, err := GenerateRefreshToken()
	if err != nil {
		return Pair{}, err
	}
	payload, err := json.Marshal(refreshEntry{Principal: p, Generation: gen})
	if err != nil {
		return Pair{}, oops.Code("TOKEN_ENCODE_FAILED").With("account_id", p.AccountID).Wrap(err)
	}

	key := cache.RefreshTokenKey(hash)
	if err := s.store.Set(ctx, key, string(payload), s.refreshTTL); err != nil {
		return Pair{}, oops.Code("CACHE_UNAVAILABLE").
			With("operation", "store refresh token").
			With("account_id", p.AccountID).
			Wrap(err)
	}
	if err := s.store.AddToSet(ctx, cache.AccountTokensKey(p.AccountID), s.refreshTTL, hash); err != nil {
		// A token missing from the account set could never be revoked.
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			errutil.LogErrorContext(ctx, s.logger, "failed to discard unindexed refresh token", delErr)
		}
		return Pair{}, oops.Code("CACHE_UNAVAILABLE").
			With("operation", "index refresh token").
			With("account_id", p.AccountID).
			Wrap(err)
	}

	current, err := s.generation(ctx, p.AccountID)
	if err != nil || current != gen {
		s.discard(ctx, p.AccountID, hash)
		if err != nil {
			return Pair{}, err
		}
		s.logger.InfoContext(ctx, "discarded pair minted across sign-out", "account_id", p.AccountID)
		return Pair{}, errRevokedDuringIssue
	}

	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.accessTTL / time.Second),
		ExpiresAt:    expiresAt,
	}, nil
}

// Rotate consumes refresh and issues a new pair for the same principal.
// Only one of several concurrent callers presenting the same token wins;
// the others get TOKEN_INVALID.
func (s *Service) Rotate(ctx context.Context, refresh string) (Pair, error) {
	if refresh == "" {
		return Pair{}, ErrTokenInvalid
	}
	hash := HashRefreshToken(refresh)

	raw, err := s.store.GetDel(ctx, cache.RefreshTokenKey(hash))
	if errors.Is(err, cache.ErrMiss) {
		return Pair{}, ErrTokenInvalid
	}
	if err != nil {
		return Pair{}, oops.Code("CACHE_UNAVAILABLE").With("operation", "consume refresh token").Wrap(err)
	}

	var entry refreshEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.AccountID == "" {
		s.logger.WarnContext(ctx, "discarding corrupt refresh token entry")
		return Pair{}, ErrTokenInvalid
	}
	accountID := entry.AccountID

	if err := s.store.RemoveFromSet(ctx, cache.AccountTokensKey(accountID), hash); err != nil {
		s.logger.WarnContext(ctx, "failed to unindex rotated refresh token",
			"account_id", accountID, "error", err)
	}

	gen, err := s.generation(ctx, accountID)
	if err != nil {
		return Pair{}, err
	}
	if gen != entry.Generation {
		return Pair{}, ErrTokenInvalid
	}

	p := entry.Principal
	if s.loader != nil {
		if p, err = s.loader.LoadPrincipal(ctx, accountID); err != nil {
			s.revokeRejected(ctx, accountID, err)
			return Pair{}, err
		}
		p.AccountID = accountID
	}
	return s.issue(ctx, p, gen)
}

// revokeRejected signs out an account the loader refused, so its other
// refresh tokens die with the one just consumed.
func (s *Service) revokeRejected(ctx context.Context, accountID string, cause error) {
	switch errutil.Code(cause) {
	case "IDENTITY_CONFLICT", "TOKEN_INVALID":
		if err := s.Revoke(ctx, accountID); err != nil {
			errutil.LogErrorContext(ctx, s.logger, "revoking rejected account failed", err)
		}
	}
}

// generation reads the account's revocation count. A missing counter is
// zero.
func (s *Service) generation(ctx context.Context, accountID string) (int64, error) {
	raw, err := s.store.Get(ctx, cache.AccountRevocationKey(accountID))
	if errors.Is(err, cache.ErrMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.Code("CACHE_UNAVAILABLE").
			With("operation", "read revocation generation").
			With("account_id", accountID).
			Wrap(err)
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, oops.Code("CACHE_UNAVAILABLE").
			With("operation", "parse revocation generation").
			With("account_id", accountID).
			Wrap(err)
	}
	return gen, nil
}

func (s *Service) discard(ctx context.Context, accountID, hash string) {
	if err := s.store.Delete(ctx, cache.RefreshTokenKey(hash)); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to discard refresh token", err)
	}
	if err := s.store.RemoveFromSet(ctx, cache.AccountTokensKey(accountID), hash); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to unindex discarded refresh token", err)
	}
}

// Validate checks an access token's signature, issuer and expiry.
func (s *Service) Validate(access string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(access, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code("TOKEN_EXPIRED").Wrap(err)
		}
		return nil, oops.Code("TOKEN_MALFORMED").Wrap(err)
	}
	if claims.Subject == "" {
		return nil, oops.Code("TOKEN_MALFORMED").Errorf("token has no subject")
	}
	return claims, nil
}

// Revoke deletes every refresh token issued to accountID, including any
// being minted concurrently, and drops its permission snapshot. Access
// tokens already issued stay valid until they expire.
func (s *Service) Revoke(ctx context.Context, accountID string) error {
	if accountID == "" {
		return oops.Code("TOKEN_PRINCIPAL_INVALID").Errorf("account ID cannot be empty")
	}
	// Bump first: a pair minted concurrently either sees the new count or
	// lands in the set before it is listed below.
	if _, err := s.store.Incr(ctx, cache.AccountRevocationKey(accountID)); err != nil {
		return oops.Code("CACHE_UNAVAILABLE").
			With("operation", "bump revocation generation").
			With("account_id", accountID).
			Wrap(err)
	}
	setKey := cache.AccountTokensKey(accountID)

	hashes, err := s.store.SetMembers(ctx, setKey)
	if err != nil {
		return oops.Code("CACHE_UNAVAILABLE").
			With("operation", "list refresh tokens").
			With("account_id", accountID).
			Wrap(err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, cache.RefreshTokenKey(h))
	}
	keys = append(keys, setKey)
	if err := s.store.Delete(ctx, keys...); err != nil {
		return oops.Code("CACHE_UNAVAILABLE").
			With("operation", "delete refresh tokens").
			With("account_id", accountID).
			Wrap(err)
	}

	if s.invalidator != nil {
		if err := s.invalidator.InvalidateAccount(ctx, accountID); err != nil {
			errutil.LogErrorContext(ctx, s.logger, "permission invalidation after revoke failed", err)
		}
	}

	s.logger.InfoContext(ctx, "refresh tokens revoked", "account_id", accountID, "count", len(hashes))
	return nil
}
