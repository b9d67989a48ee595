// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/cache"
	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/pkg/errutil"
)

func TestCacheSequence_Next(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	seq := identity.NewCacheSequence(cache.NewRedisStoreFromClient(client, time.Second), identity.DefaultHandleBase)

	first, err := seq.Next(context.Background())
	require.NoError(t, err)
	second, err := seq.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, identity.DefaultHandleBase+1, first)
	assert.Equal(t, identity.DefaultHandleBase+2, second)

	got, err := mr.Get(cache.AccountHandleKey)
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	mr.Close()
	_, err = seq.Next(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CACHE_UNAVAILABLE")
}
