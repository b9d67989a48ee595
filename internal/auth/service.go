// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/cache"
	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/identity/provider"
	"github.com/holomush/authcore/internal/permission"
	"github.com/holomush/authcore/internal/token"
	"github.com/holomush/authcore/internal/verification"
)

// Flow lifetimes used when Config leaves them unset.
const (
	DefaultAuthRequestTTL   = 10 * time.Minute
	DefaultLoginExchangeTTL = 5 * time.Minute
	DefaultPasswordResetTTL = time.Hour
	MinPasswordLength       = 8
)

// Login methods, used as the method label of login metrics and events.
const (
	MethodPassword = "password"
	MethodCode     = "code"
	MethodOAuth2   = "oauth2"
	MethodRegister = "register"
)

// Outcomes reported to the Recorder.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeLocked   = "locked"
	OutcomeMismatch = "mismatch"
	OutcomeError    = "error"
)

// secretBytes is the entropy of state values, exchange codes and reset
// tokens.
const secretBytes = 32

// Resolver maps claims to an account.
type Resolver interface {
	ResolveOrCreate(ctx context.Context, c identity.Claims) (*identity.Account, error)
}

// Tokens issues and manages token pairs.
type Tokens interface {
	Issue(ctx context.Context, p token.Principal) (token.Pair, error)
	Rotate(ctx context.Context, refresh string) (token.Pair, error)
	Revoke(ctx context.Context, accountID string) error
}

// Codes issues and checks one-time verification codes.
type Codes interface {
	Issue(ctx context.Context, channel verification.Channel, destination string) (string, error)
	Require(ctx context.Context, channel verification.Channel, destination, code string) error
	Clear(ctx context.Context, channel verification.Channel, destination string) error
}

// Permissions resolves an account's authorization payload.
type Permissions interface {
	Snapshot(ctx context.Context, accountID string) (*permission.Snapshot, error)
}

// Providers looks up external identity providers by name.
type Providers interface {
	Get(name string) (provider.Adapter, error)
}

// Recorder observes flow outcomes. *observability.Metrics satisfies it.
type Recorder interface {
	RecordLogin(method, outcome string)
	RecordRotation(outcome string)
	RecordVerification(channel, outcome string)
}

// Config tunes the flows.
type Config struct {
	AuthRequestTTL    time.Duration
	LoginExchangeTTL  time.Duration
	PasswordResetTTL  time.Duration
	RedirectAllowlist []string
	DefaultRedirect   string
}

// Deps holds the collaborators of a Service. Accounts, Resolver, Tokens,
// Codes, Permissions and Store are required.
type Deps struct {
	Accounts    identity.AccountRepository
	Resolver    Resolver
	Tokens      Tokens
	Codes       Codes
	Permissions Permissions
	Providers   Providers
	Store       cache.Store
	Hasher      identity.PasswordHasher
	Notifier    Notifier
	Events      identity.EventPublisher
	Metrics     Recorder
	Logger      *slog.Logger
	Now         func() time.Time
	// Sleep waits out the progressive failure delay. Defaults to a
	// context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Session is the result of a successful sign-in.
type Session struct {
	Account *identity.Account
	Tokens  token.Pair
}

// Service runs the login flows.
type Service struct {
	accounts    identity.AccountRepository
	resolver    Resolver
	tokens      Tokens
	codes       Codes
	permissions Permissions
	providers   Providers
	store       cache.Store
	hasher      identity.PasswordHasher
	notifier    Notifier
	events      identity.EventPublisher
	metrics     Recorder
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	cfg         Config
	redirects   []glob.Glob
}

// NewService creates a Service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("account repository is required")
	case deps.Resolver == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("identity resolver is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token service is required")
	case deps.Codes == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("verification gate is required")
	case deps.Permissions == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("permission assembler is required")
	case deps.Store == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("cache store is required")
	}

	if deps.Hasher == nil {
		deps.Hasher = identity.NewArgon2idHasher()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(deps.Logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if cfg.AuthRequestTTL <= 0 {
		cfg.AuthRequestTTL = DefaultAuthRequestTTL
	}
	if cfg.LoginExchangeTTL <= 0 {
		cfg.LoginExchangeTTL = DefaultLoginExchangeTTL
	}
	if cfg.PasswordResetTTL <= 0 {
		cfg.PasswordResetTTL = DefaultPasswordResetTTL
	}

	redirects := make([]glob.Glob, 0, len(cfg.RedirectAllowlist))
	for _, pattern := range cfg.RedirectAllowlist {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, oops.Code("AUTH_INVALID_CONFIG").With("pattern", pattern).Wrap(err)
		}
		redirects = append(redirects, g)
	}

	return &Service{
		accounts:    deps.Accounts,
		resolver:    deps.Resolver,
		tokens:      deps.Tokens,
		codes:       deps.Codes,
		permissions: deps.Permissions,
		providers:   deps.Providers,
		store:       deps.Store,
		hasher:      deps.Hasher,
		notifier:    deps.Notifier,
		events:      deps.Events,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
		sleep:       deps.Sleep,
		cfg:         cfg,
		redirects:   redirects,
	}, nil
}

// signIn issues a token pair for account, carrying its role codes.
func (s *Service) signIn(ctx context.Context, account *identity.Account) (*Session, error) {
	p, err := principalOf(ctx, s.permissions, account)
	if err != nil {
		return nil, err
	}
	pair, err := s.tokens.Issue(ctx, p)
	if err != nil {
		return nil, err
	}
	return &Session{Account: account, Tokens: pair}, nil
}

// newSecret returns a random hex token and its sha256 digest.
func newSecret() (plain, digest string, err error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", oops.Code("AUTH_RANDOM_FAILED").With("operation", "crypto/rand.Read").Wrap(err)
	}
	plain = hex.EncodeToString(b)
	return plain, digestOf(plain), nil
}

func digestOf(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string, string)        {}
func (nopRecorder) RecordRotation(string)             {}
func (nopRecorder) RecordVerification(string, string) {}
