// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/authcore/internal/events"
	"github.com/holomush/authcore/pkg/errutil"
)

// Re-query defaults after a lost creation race.
const (
	DefaultRaceRetries    = 3
	DefaultRaceRetryDelay = 25 * time.Millisecond
)

// UnionPolicy reports whether a provider groups identities by union id.
type UnionPolicy interface {
	SupportsUnion(provider string) bool
}

// EventPublisher accepts events without blocking the caller.
type EventPublisher interface {
	Publish(ctx context.Context, e events.Event)
}

// ResolverConfig tunes account creation.
type ResolverConfig struct {
	DefaultAvatarURL string
	RaceRetries      uint64
	RaceRetryDelay   time.Duration
}

// ResolverDeps holds the collaborators of a Resolver.
type ResolverDeps struct {
	Accounts AccountRepository
	Bindings BindingRepository
	Sequence HandleSequence
	Hasher   PasswordHasher
	Unions   UnionPolicy
	Events   EventPublisher
	Logger   *slog.Logger
	Now      func() time.Time
}

// Resolver maps claims to a canonical account.
type Resolver struct {
	accounts AccountRepository
	bindings BindingRepository
	sequence HandleSequence
	hasher   PasswordHasher
	unions   UnionPolicy
	events   EventPublisher
	logger   *slog.Logger
	now      func() time.Time
	cfg      ResolverConfig
}

// NewResolver creates a Resolver.
func NewResolver(deps ResolverDeps, cfg ResolverConfig) (*Resolver, error) {
	if deps.Accounts == nil || deps.Bindings == nil {
		return nil, oops.Code("IDENTITY_INVALID_CONFIG").Errorf("account and binding repositories are required")
	}
	if deps.Sequence == nil {
		return nil, oops.Code("IDENTITY_INVALID_CONFIG").Errorf("handle sequence is required")
	}
	if deps.Hasher == nil {
		deps.Hasher = NewArgon2idHasher()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.RaceRetries == 0 {
		cfg.RaceRetries = DefaultRaceRetries
	}
	if cfg.RaceRetryDelay <= 0 {
		cfg.RaceRetryDelay = DefaultRaceRetryDelay
	}
	return &Resolver{
		accounts: deps.Accounts,
		bindings: deps.Bindings,
		sequence: deps.Sequence,
		hasher:   deps.Hasher,
		unions:   deps.Unions,
		events:   deps.Events,
		logger:   deps.Logger,
		now:      deps.Now,
		cfg:      cfg,
	}, nil
}

// ResolveOrCreate returns the account claims belong to, creating one with
// its first binding when no existing account matches.
func (r *Resolver) ResolveOrCreate(ctx context.Context, c Claims) (*Account, error) {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	account, err := r.match(ctx, c)
	switch {
	case err == nil:
		r.publishLogin(ctx, account, c)
		return account, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	account, err = r.create(ctx, c)
	if errors.Is(err, ErrDuplicate) {
		r.logger.DebugContext(ctx, "lost account creation race, re-querying",
			"provider", c.Provider)
		account, err = r.requery(ctx, c)
	}
	if err != nil {
		return nil, err
	}

	r.publishLogin(ctx, account, c)
	return account, nil
}

// match walks the lookup order. It returns ErrNotFound when nothing
// matches.
func (r *Resolver) match(ctx context.Context, c Claims) (*Account, error) {
	if account, err := r.matchOpenID(ctx, c); !errors.Is(err, ErrNotFound) {
		return account, err
	}
	if account, err := r.matchUnionID(ctx, c); !errors.Is(err, ErrNotFound) {
		return account, err
	}
	if c.Email != "" {
		if account, err := r.matchContact(ctx, c, r.accounts.GetByEmail, c.Email); !errors.Is(err, ErrNotFound) {
			return account, err
		}
	}
	if c.Phone != "" {
		if account, err := r.matchContact(ctx, c, r.accounts.GetByPhone, c.Phone); !errors.Is(err, ErrNotFound) {
			return account, err
		}
	}
	return nil, ErrNotFound
}

func (r *Resolver) matchOpenID(ctx context.Context, c Claims) (*Account, error) {
	binding, err := r.bindings.GetByOpenID(ctx, c.Provider, c.OpenID)
	if err != nil {
		return nil, lookupErr(err, "lookup binding by open id")
	}

	account, err := r.load(ctx, binding.AccountID)
	if err != nil {
		return nil, err
	}

	if c.UnionID != "" && binding.UnionIDValue() != c.UnionID {
		r.reconcileUnion(ctx, binding, c)
	}
	return account, nil
}

// reconcileUnion records a union id newly reported for an existing binding.
// Accounts are never merged: when a different account already holds the
// union id the conflict is logged and both accounts stay as they are.
func (r *Resolver) reconcileUnion(ctx context.Context, binding *Binding, c Claims) {
	if r.supportsUnion(c.Provider) {
		holder, err := r.bindings.GetByUnionID(ctx, c.Provider, c.UnionID)
		if err == nil && holder.AccountID != binding.AccountID {
			r.logger.WarnContext(ctx, "union id already held by another account",
				"provider", c.Provider,
				"account_id", binding.AccountID.String(),
				"holder_account_id", holder.AccountID.String())
		}
	}

	unionID := c.UnionID
	if err := r.bindings.UpdateMetadata(ctx, binding.ID, &unionID, c.rawJSON(), r.now()); err != nil {
		errutil.LogErrorContext(ctx, r.logger, "failed to update binding metadata", err)
	}
}

func (r *Resolver) matchUnionID(ctx context.Context, c Claims) (*Account, error) {
	if c.UnionID == "" || !r.supportsUnion(c.Provider) {
		return nil, ErrNotFound
	}

	binding, err := r.bindings.GetByUnionID(ctx, c.Provider, c.UnionID)
	if err != nil {
		return nil, lookupErr(err, "lookup binding by union id")
	}

	account, err := r.load(ctx, binding.AccountID)
	if err != nil {
		return nil, err
	}

	if binding.OpenID != c.OpenID {
		err := r.bindings.UpdateOpenID(ctx, binding.ID, c.OpenID, c.rawJSON(), r.now())
		switch {
		case errors.Is(err, ErrDuplicate):
			// A concurrent resolution already bound the new open id.
		case err != nil:
			return nil, oops.Code("IDENTITY_RESOLVE_FAILED").
				With("operation", "update open id").
				With("provider", c.Provider).
				Wrap(err)
		default:
			r.logger.InfoContext(ctx, "binding open id updated from union id",
				"provider", c.Provider, "account_id", account.ID.String())
		}
	}
	return account, nil
}

type contactLookup func(ctx context.Context, value string) (*Account, error)

func (r *Resolver) matchContact(ctx context.Context, c Claims, lookup contactLookup, value string) (*Account, error) {
	account, err := lookup(ctx, value)
	if err != nil {
		return nil, lookupErr(err, "lookup account by contact")
	}
	if account.Disabled() {
		return nil, conflict(account)
	}

	err = r.bindings.Create(ctx, newBinding(account.ID, c, r.now()))
	if errors.Is(err, ErrDuplicate) {
		// Bound concurrently; the open id lookup now resolves to the winner.
		return r.matchOpenID(ctx, c)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_RESOLVE_FAILED").
			With("operation", "attach binding").
			With("provider", c.Provider).
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	r.logger.InfoContext(ctx, "binding attached to existing account",
		"provider", c.Provider, "account_id", account.ID.String())
	return account, nil
}

func (r *Resolver) load(ctx context.Context, id ulid.ULID) (*Account, error) {
	account, err := r.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, oops.Code("IDENTITY_RESOLVE_FAILED").
			With("operation", "load bound account").
			With("account_id", id.String()).
			Wrap(err)
	}
	if account.Disabled() {
		return nil, conflict(account)
	}
	return account, nil
}

func (r *Resolver) create(ctx context.Context, c Claims) (*Account, error) {
	handle, err := r.sequence.Next(ctx)
	if err != nil {
		return nil, err
	}
	placeholder, err := PlaceholderPassword(r.hasher)
	if err != nil {
		return nil, err
	}
	nickname, err := r.UniqueNickname(ctx, c.Nickname, handle)
	if err != nil {
		return nil, err
	}

	avatar := c.AvatarURL
	if avatar == "" {
		avatar = r.cfg.DefaultAvatarURL
	}

	now := r.now()
	account := &Account{
		ID:           ulid.Make(),
		Handle:       handle,
		Username:     HandleUsername(handle),
		Email:        optional(c.Email),
		Phone:        optional(c.Phone),
		PasswordHash: placeholder,
		Type:         c.AccountType,
		Status:       StatusActive,
		Nickname:     nickname,
		AvatarURL:    avatar,
		LastLoginAt:  &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.accounts.CreateWithBinding(ctx, account, newBinding(account.ID, c, now)); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, oops.Code("IDENTITY_RESOLVE_FAILED").
			With("operation", "create account").
			With("provider", c.Provider).
			Wrap(err)
	}

	r.logger.InfoContext(ctx, "account created",
		"account_id", account.ID.String(), "handle", handle, "provider", c.Provider)
	if r.events != nil {
		e := events.New(events.AccountCreated, account.ID.String())
		e.Provider = c.Provider
		e.Attrs = map[string]string{"handle": strconv.FormatInt(handle, 10)}
		r.events.Publish(ctx, e)
	}
	return account, nil
}

func (r *Resolver) requery(ctx context.Context, c Claims) (*Account, error) {
	var account *Account
	backoff := retry.WithMaxRetries(r.cfg.RaceRetries, retry.NewConstant(r.cfg.RaceRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		found, err := r.match(ctx, c)
		if errors.Is(err, ErrNotFound) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		account = found
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code("IDENTITY_RESOLVE_FAILED").
			With("operation", "re-query after duplicate").
			With("provider", c.Provider).
			Wrap(err)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// UniqueNickname returns want when it is free, "user<handle>" when want is
// empty, and "<want>_<handle>" when want is taken.
func (r *Resolver) UniqueNickname(ctx context.Context, want string, handle int64) (string, error) {
	suffix := strconv.FormatInt(handle, 10)
	if want == "" {
		return "user" + suffix, nil
	}
	taken, err := r.accounts.NicknameTaken(ctx, want)
	if err != nil {
		return "", oops.Code("IDENTITY_RESOLVE_FAILED").With("operation", "check nickname").Wrap(err)
	}
	if taken {
		return want + "_" + suffix, nil
	}
	return want, nil
}

func (r *Resolver) supportsUnion(provider string) bool {
	return r.unions != nil && r.unions.SupportsUnion(provider)
}

func (r *Resolver) publishLogin(ctx context.Context, account *Account, c Claims) {
	if r.events == nil {
		return
	}
	e := events.New(events.LoginSucceeded, account.ID.String())
	e.Method = "identity"
	e.Provider = c.Provider
	r.events.Publish(ctx, e)
}

func lookupErr(err error, op string) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return oops.Code("IDENTITY_RESOLVE_FAILED").With("operation", op).Wrap(err)
}

func conflict(account *Account) error {
	return oops.Code("IDENTITY_CONFLICT").
		With("account_id", account.ID.String()).
		Wrap(ErrIdentityConflict)
}
