// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package identitytest provides in-memory identity repositories for tests.
// They enforce the same uniqueness rules as the PostgreSQL schema.
package identitytest

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/authcore/internal/identity"
)

// DB is the shared state behind Accounts and Bindings.
type DB struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]identity.Account
	bindings map[ulid.ULID]identity.Binding

	// Err, when set, is returned from every call.
	Err error
}

// NewDB creates an empty store.
func NewDB() *DB {
	return &DB{
		accounts: make(map[ulid.ULID]identity.Account),
		bindings: make(map[ulid.ULID]identity.Binding),
	}
}

// Accounts returns the account repository view.
func (db *DB) Accounts() *Accounts { return &Accounts{db: db} }

// Bindings returns the binding repository view.
func (db *DB) Bindings() *Bindings { return &Bindings{db: db} }

// AccountCount returns the number of stored accounts.
func (db *DB) AccountCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.accounts)
}

// AllBindings returns a copy of every binding.
func (db *DB) AllBindings() []identity.Binding {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]identity.Binding, 0, len(db.bindings))
	for _, b := range db.bindings {
		out = append(out, b)
	}
	return out
}

// Put stores an account directly, bypassing uniqueness checks.
func (db *DB) Put(a *identity.Account) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.accounts[a.ID] = *a
}

// Delete removes an account.
func (db *DB) Delete(id ulid.ULID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.accounts, id)
}

// PutBinding stores a binding directly.
func (db *DB) PutBinding(b *identity.Binding) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.bindings[b.ID] = *b
}

func eqFold(p *string, v string) bool {
	return p != nil && strings.EqualFold(*p, v)
}

func (db *DB) accountConflict(a *identity.Account) bool {
	for id, existing := range db.accounts {
		if id == a.ID || strings.EqualFold(existing.Username, a.Username) {
			return true
		}
		if a.Email != nil && eqFold(existing.Email, *a.Email) {
			return true
		}
		if a.Phone != nil && existing.Phone != nil && *existing.Phone == *a.Phone {
			return true
		}
	}
	return false
}

func (db *DB) bindingConflict(b *identity.Binding) bool {
	for id, existing := range db.bindings {
		if id == b.ID {
			continue
		}
		if existing.Provider == b.Provider && existing.OpenID == b.OpenID {
			return true
		}
	}
	return false
}

func (db *DB) findAccount(match func(identity.Account) bool) (*identity.Account, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.Err != nil {
		return nil, db.Err
	}
	for _, a := range db.accounts {
		if match(a) {
			return &a, nil
		}
	}
	return nil, identity.ErrNotFound
}

// Accounts implements identity.AccountRepository.
type Accounts struct{ db *DB }

// GetByID implements identity.AccountRepository.
func (r *Accounts) GetByID(_ context.Context, id ulid.ULID) (*identity.Account, error) {
	return r.db.findAccount(func(a identity.Account) bool { return a.ID == id })
}

// GetByUsername implements identity.AccountRepository.
func (r *Accounts) GetByUsername(_ context.Context, username string) (*identity.Account, error) {
	return r.db.findAccount(func(a identity.Account) bool { return strings.EqualFold(a.Username, username) })
}

// GetByEmail implements identity.AccountRepository.
func (r *Accounts) GetByEmail(_ context.Context, email string) (*identity.Account, error) {
	return r.db.findAccount(func(a identity.Account) bool { return eqFold(a.Email, email) })
}

// GetByPhone implements identity.AccountRepository.
func (r *Accounts) GetByPhone(_ context.Context, phone string) (*identity.Account, error) {
	return r.db.findAccount(func(a identity.Account) bool { return a.Phone != nil && *a.Phone == phone })
}

// NicknameTaken implements identity.AccountRepository.
func (r *Accounts) NicknameTaken(_ context.Context, nickname string) (bool, error) {
	_, err := r.db.findAccount(func(a identity.Account) bool { return a.Nickname == nickname })
	if errors.Is(err, identity.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Create implements identity.AccountRepository.
func (r *Accounts) Create(_ context.Context, a *identity.Account) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.Err != nil {
		return r.db.Err
	}
	if r.db.accountConflict(a) {
		return identity.ErrDuplicate
	}
	r.db.accounts[a.ID] = *a
	return nil
}

// CreateWithBinding implements identity.AccountRepository.
func (r *Accounts) CreateWithBinding(_ context.Context, a *identity.Account, b *identity.Binding) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.Err != nil {
		return r.db.Err
	}
	if r.db.accountConflict(a) || r.db.bindingConflict(b) {
		return identity.ErrDuplicate
	}
	r.db.accounts[a.ID] = *a
	r.db.bindings[b.ID] = *b
	return nil
}

// UpdateLoginState implements identity.AccountRepository.
func (r *Accounts) UpdateLoginState(_ context.Context, a *identity.Account) error {
	return r.update(a.ID, func(stored *identity.Account) {
		stored.FailedAttempts = a.FailedAttempts
		stored.LockedUntil = a.LockedUntil
		stored.LastLoginAt = a.LastLoginAt
		stored.UpdatedAt = a.UpdatedAt
	})
}

// UpdatePassword implements identity.AccountRepository.
func (r *Accounts) UpdatePassword(_ context.Context, id ulid.ULID, hash string) error {
	return r.update(id, func(stored *identity.Account) {
		stored.PasswordHash = hash
		stored.UpdatedAt = time.Now()
	})
}

func (r *Accounts) update(id ulid.ULID, fn func(*identity.Account)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.Err != nil {
		return r.db.Err
	}
	stored, ok := r.db.accounts[id]
	if !ok {
		return identity.ErrNotFound
	}
	fn(&stored)
	r.db.accounts[id] = stored
	return nil
}

// Bindings implements identity.BindingRepository.
type Bindings struct{ db *DB }

func (r *Bindings) find(match func(identity.Binding) bool) (*identity.Binding, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.Err != nil {
		return nil, r.db.Err
	}
	var best *identity.Binding
	for _, b := range r.db.bindings {
		if match(b) && (best == nil || b.UpdatedAt.After(best.UpdatedAt)) {
			best = &b
		}
	}
	if best == nil {
		return nil, identity.ErrNotFound
	}
	return best, nil
}

// GetByOpenID implements identity.BindingRepository.
func (r *Bindings) GetByOpenID(_ context.Context, provider, openID string) (*identity.Binding, error) {
	return r.find(func(b identity.Binding) bool { return b.Provider == provider && b.OpenID == openID })
}

// GetByUnionID implements identity.BindingRepository.
func (r *Bindings) GetByUnionID(_ context.Context, provider, unionID string) (*identity.Binding, error) {
	return r.find(func(b identity.Binding) bool {
		return b.Provider == provider && b.UnionIDValue() == unionID
	})
}

// ListByAccount implements identity.BindingRepository.
func (r *Bindings) ListByAccount(_ context.Context, accountID ulid.ULID) ([]*identity.Binding, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.Err != nil {
		return nil, r.db.Err
	}
	var out []*identity.Binding
	for _, b := range r.db.bindings {
		if b.AccountID == accountID {
			out = append(out, &b)
		}
	}
	slices.SortFunc(out, func(a, b *identity.Binding) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Create implements identity.BindingRepository.
func (r *Bindings) Create(_ context.Context, b *identity.Binding) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.Err != nil {
		return r.db.Err
	}
	if r.db.bindingConflict(b) {
		return identity.ErrDuplicate
	}
	r.db.bindings[b.ID] = *b
	return nil
}

// UpdateOpenID implements identity.BindingRepository.
func (r *Bindings) UpdateOpenID(_ context.Context, id ulid.ULID, openID string, raw json.RawMessage, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.Err != nil {
		return r.db.Err
	}
	stored, ok := r.db.bindings[id]
	if !ok {
		return identity.ErrNotFound
	}
	stored.OpenID = openID
	if r.db.bindingConflict(&stored) {
		return identity.ErrDuplicate
	}
	if raw != nil {
		stored.RawClaims = raw
	}
	stored.UpdatedAt = at
	r.db.bindings[id] = stored
	return nil
}

// UpdateMetadata implements identity.BindingRepository.
func (r *Bindings) UpdateMetadata(_ context.Context, id ulid.ULID, unionID *string, raw json.RawMessage, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.Err != nil {
		return r.db.Err
	}
	stored, ok := r.db.bindings[id]
	if !ok {
		return identity.ErrNotFound
	}
	stored.UnionID = unionID
	if raw != nil {
		stored.RawClaims = raw
	}
	stored.UpdatedAt = at
	r.db.bindings[id] = stored
	return nil
}

var (
	_ identity.AccountRepository = (*Accounts)(nil)
	_ identity.BindingRepository = (*Bindings)(nil)
)
