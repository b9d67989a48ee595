// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package permission_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/cache"
	"github.com/holomush/authcore/internal/permission"
	"github.com/holomush/authcore/pkg/errutil"
)

type fakeSource struct {
	mu      sync.Mutex
	roles   map[string][]permission.Role
	menus   map[string][]permission.Menu
	calls   atomic.Int32
	gate    chan struct{}
	failErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{roles: map[string][]permission.Role{}, menus: map[string][]permission.Menu{}}
}

func (f *fakeSource) grant(accountID string, role permission.Role, menus ...permission.Menu) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[accountID] = append(f.roles[accountID], role)
	f.menus[accountID] = append(f.menus[accountID], menus...)
}

func (f *fakeSource) Roles(_ context.Context, accountID string) ([]permission.Role, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	return append([]permission.Role(nil), f.roles[accountID]...), nil
}

func (f *fakeSource) VisibleMenus(_ context.Context, accountID string) ([]permission.Menu, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]permission.Menu(nil), f.menus[accountID]...), nil
}

func (f *fakeSource) AccountsWithRole(_ context.Context, roleID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for acct, roles := range f.roles {
		for _, r := range roles {
			if r.ID == roleID {
				ids = append(ids, acct)
				break
			}
		}
	}
	return ids, nil
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordPermissionCache(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[result]++
}

func (r *countingRecorder) get(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[result]
}

var (
	adminRole  = permission.Role{ID: 1, Code: "admin", Permission: "admin"}
	editorRole = permission.Role{ID: 2, Code: "editor", Permission: "editor"}
	usersMenu  = permission.Menu{ID: 10, ParentID: 0, Label: "users", Permission: "sys:user:list"}
	rolesMenu  = permission.Menu{ID: 11, ParentID: 10, Label: "roles", Permission: "sys:role:list"}
)

func newAssembler(t *testing.T, src permission.Source, store cache.Store, opts ...permission.Option) *permission.Assembler {
	t.Helper()
	a, err := permission.NewAssembler(src, store, opts...)
	require.NoError(t, err)
	return a
}

func TestNewAssemblerValidation(t *testing.T) {
	_, err := permission.NewAssembler(nil, cache.NewMemoryStore(8))
	errutil.AssertErrorCode(t, err, "PERMISSION_INVALID_CONFIG")

	_, err = permission.NewAssembler(newFakeSource(), nil)
	errutil.AssertErrorCode(t, err, "PERMISSION_INVALID_CONFIG")
}

func TestEffectivePermissionsAndMenuTree(t *testing.T) {
	src := newFakeSource()
	src.grant("acct-1", adminRole, usersMenu, rolesMenu)
	a := newAssembler(t, src, cache.NewMemoryStore(64))
	ctx := context.Background()

	perms, err := a.EffectivePermissions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_USER", "ROLE_admin", "sys:role:list", "sys:user:list"}, perms)

	tree, err := a.MenuTree(ctx, "acct-1", 0)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, "users", tree[0].Label)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "roles", tree[0].Children[0].Label)

	snap, err := a.Snapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, snap.Roles)
}

func TestAccountWithoutGrantsGetsBaseline(t *testing.T) {
	a := newAssembler(t, newFakeSource(), cache.NewMemoryStore(64))

	perms, err := a.EffectivePermissions(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, []string{permission.BaselinePermission}, perms)

	tree, err := a.MenuTree(context.Background(), "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, tree)
}

func TestSnapshotRequiresAccount(t *testing.T) {
	a := newAssembler(t, newFakeSource(), cache.NewMemoryStore(64))
	_, err := a.EffectivePermissions(context.Background(), "")
	errutil.AssertErrorCode(t, err, "PERMISSION_ACCOUNT_REQUIRED")
}

func TestSnapshotIsCached(t *testing.T) {
	src := newFakeSource()
	src.grant("acct-1", adminRole, usersMenu)
	rec := &countingRecorder{}
	a := newAssembler(t, src, cache.NewMemoryStore(64), permission.WithRecorder(rec))
	ctx := context.Background()

	for range 3 {
		_, err := a.EffectivePermissions(ctx, "acct-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 1, rec.get(permission.CacheMiss))
	assert.Equal(t, 2, rec.get(permission.CacheHit))
}

func TestReturnedPermissionsAreCopies(t *testing.T) {
	src := newFakeSource()
	src.grant("acct-1", adminRole)
	a := newAssembler(t, src, cache.NewMemoryStore(64))

	perms, err := a.EffectivePermissions(context.Background(), "acct-1")
	require.NoError(t, err)
	perms[0] = "tampered"

	again, err := a.EffectivePermissions(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, permission.BaselinePermission, again[0])
}

func TestConcurrentMissesComputeOnce(t *testing.T) {
	src := newFakeSource()
	src.grant("acct-1", adminRole, usersMenu)
	src.gate = make(chan struct{})
	a := newAssembler(t, src, cache.NewMemoryStore(64))

	const callers = 10
	var wg sync.WaitGroup
	results := make([][]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			perms, err := a.EffectivePermissions(context.Background(), "acct-1")
			assert.NoError(t, err)
			results[i] = perms
		}()
	}

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestInvalidateAccount(t *testing.T) {
	src := newFakeSource()
	src.grant("acct-1", adminRole)
	src.grant("acct-2", adminRole)
	a := newAssembler(t, src, cache.NewMemoryStore(64))
	ctx := context.Background()

	_, err := a.EffectivePermissions(ctx, "acct-1")
	require.NoError(t, err)
	_, err = a.EffectivePermissions(ctx, "acct-2")
	require.NoError(t, err)

	src.grant("acct-1", editorRole)
	src.grant("acct-2", editorRole)
	require.NoError(t, a.InvalidateAccount(ctx, "acct-1"))

	perms, err := a.EffectivePermissions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Contains(t, perms, "ROLE_editor")

	perms, err = a.EffectivePermissions(ctx, "acct-2")
	require.NoError(t, err)
	assert.NotContains(t, perms, "ROLE_editor", "other accounts keep their snapshot")
}

func TestInvalidateRole(t *testing.T) {
	src := newFakeSource()
	src.grant("holder", editorRole)
	src.grant("bystander", adminRole)
	a := newAssembler(t, src, cache.NewMemoryStore(64))
	ctx := context.Background()

	for _, id := range []string{"holder", "bystander"} {
		_, err := a.EffectivePermissions(ctx, id)
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), src.calls.Load())

	require.NoError(t, a.InvalidateRole(ctx, editorRole.ID))
	for _, id := range []string{"holder", "bystander"} {
		_, err := a.EffectivePermissions(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), src.calls.Load(), "only the role holder is recomputed")
}

func TestInvalidateAll(t *testing.T) {
	src := newFakeSource()
	src.grant("a", adminRole)
	src.grant("b", editorRole)
	store, _ := newRedisStore(t)
	a := newAssembler(t, src, store)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := a.EffectivePermissions(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, a.InvalidateAll(ctx))
	for _, id := range []string{"a", "b"} {
		_, err := a.EffectivePermissions(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(4), src.calls.Load())
}

func TestCorruptSnapshotIsRecomputed(t *testing.T) {
	src := newFakeSource()
	src.grant("acct-1", adminRole)
	store := cache.NewMemoryStore(64)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, cache.PermissionSnapshotKey("acct-1", 0, 0), "{not json", time.Minute))

	a := newAssembler(t, src, store)
	perms, err := a.EffectivePermissions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Contains(t, perms, "ROLE_admin")
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestSnapshotTTL(t *testing.T) {
	src := newFakeSource()
	src.grant("acct-1", adminRole)
	store, mr := newRedisStore(t)
	a := newAssembler(t, src, store, permission.WithSnapshotTTL(time.Minute))
	ctx := context.Background()

	_, err := a.EffectivePermissions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(cache.PermissionSnapshotKey("acct-1", 0, 0)))

	mr.FastForward(2 * time.Minute)
	_, err = a.EffectivePermissions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCacheOutageFallsBackToSource(t *testing.T) {
	src := newFakeSource()
	src.grant("acct-1", adminRole, usersMenu)
	store, mr := newRedisStore(t)
	rec := &countingRecorder{}
	a := newAssembler(t, src, store, permission.WithRecorder(rec))
	mr.Close()

	for range 2 {
		perms, err := a.EffectivePermissions(context.Background(), "acct-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"ROLE_USER", "ROLE_admin", "sys:user:list"}, perms)
	}
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Equal(t, 2, rec.get(permission.CacheBypass))

	errutil.AssertErrorCode(t, a.InvalidateAccount(context.Background(), "acct-1"), "CACHE_UNAVAILABLE")
}

func TestSourceFailure(t *testing.T) {
	src := newFakeSource()
	src.failErr = errors.New("db down")
	a := newAssembler(t, src, cache.NewMemoryStore(64))

	_, err := a.EffectivePermissions(context.Background(), "acct-1")
	errutil.AssertErrorCode(t, err, "PERMISSION_LOAD_FAILED")
}

func newRedisStore(t *testing.T) (*cache.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisStoreFromClient(client, time.Second), mr
}
