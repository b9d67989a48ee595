// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/cache"
	"github.com/holomush/authcore/internal/events"
	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/identity/identitytest"
	"github.com/holomush/authcore/internal/identity/provider"
	"github.com/holomush/authcore/internal/permission"
	"github.com/holomush/authcore/internal/token"
	"github.com/holomush/authcore/internal/verification"
)

var (
	epoch       = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cheapParams = identity.Argon2Params{Time: 1, Memory: 64, Threads: 1, SaltLen: 8, KeyLen: 16}
	testSecret  = []byte("0123456789abcdef0123456789abcdef")
)

const testCode = "482913"

var memberRole = permission.Role{ID: 1, Code: "member", Name: "Member", Permission: "MEMBER", Status: permission.StatusActive}

// staticSource grants every account the same roles and menus.
type staticSource struct {
	mu    sync.Mutex
	roles []permission.Role
	menus []permission.Menu
}

func (s *staticSource) Roles(context.Context, string) ([]permission.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles, nil
}

func (s *staticSource) VisibleMenus(context.Context, string) ([]permission.Menu, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.menus, nil
}

func (s *staticSource) AccountsWithRole(context.Context, int64) ([]string, error) {
	return nil, nil
}

func (s *staticSource) setRoles(roles ...permission.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = roles
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []auth.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, note auth.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) last(t *testing.T) auth.Notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEvents) methods(kind events.Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e.Method)
		}
	}
	return out
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) inc(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[key]++
}

func (c *countingRecorder) RecordLogin(method, outcome string) { c.inc("login:" + method + ":" + outcome) }
func (c *countingRecorder) RecordRotation(outcome string)      { c.inc("rotation:" + outcome) }
func (c *countingRecorder) RecordVerification(channel, outcome string) {
	c.inc("verification:" + channel + ":" + outcome)
}

func (c *countingRecorder) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

// fakeAdapter stands in for an external identity provider.
type fakeAdapter struct {
	name   string
	claims identity.Claims
	err    error

	mu       sync.Mutex
	verifier string
	codes    []string
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) AuthCodeURL(state, verifier string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifier = verifier
	return "https://idp.example/authorize?" + url.Values{"state": {state}}.Encode()
}

func (f *fakeAdapter) Exchange(_ context.Context, code, verifier string) (identity.Claims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if verifier != f.verifier {
		return identity.Claims{}, errors.New("pkce verifier mismatch")
	}
	f.codes = append(f.codes, code)
	return f.claims, f.err
}

type fixture struct {
	db        *identitytest.DB
	store     *cache.MemoryStore
	source    *staticSource
	assembler *permission.Assembler
	tokens    *token.Service
	notifier  *recordingNotifier
	events    *recordingEvents
	metrics   *countingRecorder
	hasher    identity.PasswordHasher
	adapter   *fakeAdapter
	sleeps    []time.Duration
	now       time.Time
	deps      auth.Deps
	svc       *auth.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       identitytest.NewDB(),
		store:    cache.NewMemoryStore(1024),
		notifier: &recordingNotifier{},
		events:   &recordingEvents{},
		metrics:  &countingRecorder{},
		hasher:   identity.NewArgon2idHasherWithParams(cheapParams),
		adapter: &fakeAdapter{
			name:   "acme",
			claims: identity.Claims{Provider: "acme", OpenID: "acme-7", Email: "ada@acme.example", Nickname: "ada"},
		},
		now: epoch,
	}
	clock := func() time.Time { return f.now }

	registry, err := provider.NewRegistry(context.Background(), nil)
	require.NoError(t, err)
	registry.Register(f.adapter, false)

	resolver, err := identity.NewResolver(identity.ResolverDeps{
		Accounts: f.db.Accounts(),
		Bindings: f.db.Bindings(),
		Sequence: identity.NewCacheSequence(f.store, identity.DefaultHandleBase),
		Hasher:   f.hasher,
		Unions:   registry,
		Events:   f.events,
		Now:      clock,
	}, identity.ResolverConfig{RaceRetryDelay: time.Millisecond})
	require.NoError(t, err)

	f.source = &staticSource{
		roles: []permission.Role{memberRole},
		menus: []permission.Menu{
			{ID: 1, Label: "Home", Permission: "home:view", Type: permission.MenuTypeMenu, SortNo: 1},
			{ID: 2, ParentID: 1, Label: "Edit", Permission: "home:edit", Type: permission.MenuTypeButton, SortNo: 1},
		},
	}
	assembler, err := permission.NewAssembler(f.source, f.store)
	require.NoError(t, err)
	f.assembler = assembler

	loader, err := auth.NewPrincipalLoader(f.db.Accounts(), assembler)
	require.NoError(t, err)
	f.tokens, err = token.NewService(f.store, token.Config{Secret: testSecret},
		token.WithInvalidator(assembler), token.WithPrincipalLoader(loader), token.WithClock(clock))
	require.NoError(t, err)

	gate, err := verification.NewGate(f.store, verification.WithGenerator(func(int) (string, error) {
		return testCode, nil
	}))
	require.NoError(t, err)

	f.deps = auth.Deps{
		Accounts:    f.db.Accounts(),
		Resolver:    resolver,
		Tokens:      f.tokens,
		Codes:       gate,
		Permissions: assembler,
		Providers:   registry,
		Store:       f.store,
		Hasher:      f.hasher,
		Notifier:    f.notifier,
		Events:      f.events,
		Metrics:     f.metrics,
		Now:         clock,
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	}
	f.svc, err = auth.NewService(f.deps, auth.Config{
		RedirectAllowlist: []string{"https://app.example/*"},
		DefaultRedirect:   "https://app.example/signed-in",
	})
	require.NoError(t, err)
	return f
}

func strPtr(s string) *string { return &s }

// seed stores an active member account with password.
func (f *fixture) seed(t *testing.T, username, password string, mutate ...func(*identity.Account)) *identity.Account {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	a := &identity.Account{
		ID:           ulid.Make(),
		Handle:       int64(len(username)),
		Username:     username,
		Email:        strPtr(username + "@example.com"),
		PasswordHash: hash,
		Type:         identity.AccountTypeMember,
		Status:       identity.StatusActive,
		Nickname:     username,
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	}
	for _, m := range mutate {
		m(a)
	}
	f.db.Put(a)
	return a
}

func (f *fixture) account(t *testing.T, id ulid.ULID) *identity.Account {
	t.Helper()
	a, err := f.db.Accounts().GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}
