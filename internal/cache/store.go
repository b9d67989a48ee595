// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package cache is the shared key/value store with per-key TTL that holds
// every piece of ephemeral authentication state: refresh tokens, verification
// codes, pending OAuth2 requests and permission snapshots.
//
// Two implementations exist: RedisStore for shared deployments and
// MemoryStore for a single process. Both guarantee that GetDel and
// CompareAndDelete are atomic with respect to concurrent callers.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or has expired.
var ErrMiss = errors.New("cache miss")

// Store is the key/value contract used by the auth components.
type Store interface {
	// Get returns the value stored at key, or ErrMiss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key with the given TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// GetDel atomically returns and removes the value at key, or ErrMiss.
	// At most one concurrent caller observes a given value.
	GetDel(ctx context.Context, key string) (string, error)

	// CompareAndDelete removes key only if it currently holds expected.
	// Reports whether the key was removed.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// DeletePattern removes every key matching a glob pattern ("auth:x:*").
	DeletePattern(ctx context.Context, pattern string) error

	// Incr atomically increments the integer at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// AddToSet adds members to the set at key and resets the set's TTL.
	AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) error

	// RemoveFromSet removes members from the set at key.
	RemoveFromSet(ctx context.Context, key string, members ...string) error

	// SetMembers returns the members of the set at key. A missing set is empty.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
