// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/cache"
)

// DefaultHandleBase offsets cache-issued handles so they share the range of
// the database sequence.
const DefaultHandleBase int64 = 10_000_000

// CacheSequence issues handles with an atomic increment on the shared cache.
type CacheSequence struct {
	store cache.Store
	key   string
	base  int64
}

// NewCacheSequence creates a sequence counting from base+1.
func NewCacheSequence(store cache.Store, base int64) *CacheSequence {
	return &CacheSequence{store: store, key: cache.AccountHandleKey, base: base}
}

// Next returns the next handle.
func (s *CacheSequence) Next(ctx context.Context) (int64, error) {
	n, err := s.store.Incr(ctx, s.key)
	if err != nil {
		return 0, oops.Code("IDENTITY_HANDLE_FAILED").With("key", s.key).Wrap(err)
	}
	return s.base + n, nil
}
