// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/samber/oops"
)

// DefaultMemorySize is the entry bound used when MemoryStore is given none.
const DefaultMemorySize = 100_000

type memoryEntry struct {
	value     string
	set       map[string]struct{}
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore implements Store inside one process. Entries beyond the size
// bound are evicted least-recently-used first, so it suits single-node and
// development deployments only.
type MemoryStore struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, *memoryEntry]
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a MemoryStore bounded to size entries.
func NewMemoryStore(size int, opts ...MemoryOption) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	// TTL is tracked per entry; the LRU itself only bounds size.
	s := &MemoryStore{
		entries: expirable.NewLRU[string, *memoryEntry](size, nil, 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// lookup returns a live entry. Callers hold s.mu.
func (s *MemoryStore) lookup(key string) (*memoryEntry, bool) {
	e, ok := s.entries.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		s.entries.Remove(key)
		return nil, false
	}
	return e, true
}

// Get returns the string value at key, or ErrMiss.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok || e.set != nil {
		return "", ErrMiss
	}
	return e.value, nil
}

// Set stores value at key. A non-positive ttl never expires.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Add(key, &memoryEntry{value: value, expiresAt: s.deadline(ttl)})
	return nil
}

// GetDel returns and removes the value at key in one step.
func (s *MemoryStore) GetDel(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok || e.set != nil {
		return "", ErrMiss
	}
	s.entries.Remove(key)
	return e.value, nil
}

// CompareAndDelete removes key only when it holds expected.
func (s *MemoryStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok || e.set != nil || e.value != expected {
		return false, nil
	}
	s.entries.Remove(key)
	return true, nil
}

// Delete removes keys. Absent keys are ignored.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		s.entries.Remove(k)
	}
	return nil
}

// DeletePattern removes every key matching the glob pattern.
func (s *MemoryStore) DeletePattern(_ context.Context, pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return oops.Code("CACHE_PATTERN_INVALID").With("pattern", pattern).Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.entries.Keys() {
		if g.Match(k) {
			s.entries.Remove(k)
		}
	}
	return nil
}

// Incr atomically increments the integer at key, starting from zero.
func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		n         int64
		expiresAt time.Time
	)
	if e, ok := s.lookup(key); ok {
		if e.set != nil {
			return 0, oops.Code("CACHE_WRONG_TYPE").With("key", key).Errorf("key holds a set")
		}
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, oops.Code("CACHE_WRONG_TYPE").With("key", key).Wrap(err)
		}
		n = parsed
		expiresAt = e.expiresAt
	}
	n++
	s.entries.Add(key, &memoryEntry{value: strconv.FormatInt(n, 10), expiresAt: expiresAt})
	return n, nil
}

// AddToSet adds members to the set at key and resets its ttl.
func (s *MemoryStore) AddToSet(_ context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]struct{}, len(members))
	if e, ok := s.lookup(key); ok && e.set != nil {
		for m := range e.set {
			set[m] = struct{}{}
		}
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	s.entries.Add(key, &memoryEntry{set: set, expiresAt: s.deadline(ttl)})
	return nil
}

// RemoveFromSet removes members. An emptied set is deleted.
func (s *MemoryStore) RemoveFromSet(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok || e.set == nil {
		return nil
	}
	for _, m := range members {
		delete(e.set, m)
	}
	if len(e.set) == 0 {
		s.entries.Remove(key)
	}
	return nil
}

// SetMembers lists the set at key in no particular order.
func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok || e.set == nil {
		return []string{}, nil
	}
	members := make([]string, 0, len(e.set))
	for m := range e.set {
		members = append(members, m)
	}
	return members, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close drops every entry.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Purge()
	return nil
}
