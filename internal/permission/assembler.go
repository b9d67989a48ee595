// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package permission

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/singleflight"

	"github.com/holomush/authcore/internal/cache"
	"github.com/holomush/authcore/pkg/errutil"
)

// DefaultSnapshotTTL bounds how long a cached snapshot is served.
const DefaultSnapshotTTL = 30 * time.Minute

// Cache lookup outcomes reported to the Recorder.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

// Recorder observes snapshot cache outcomes.
type Recorder interface {
	RecordPermissionCache(result string)
}

// Snapshot is the cached authorization payload of one account.
type Snapshot struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Menus       []Menu   `json:"menus"`
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithSnapshotTTL overrides DefaultSnapshotTTL.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(a *Assembler) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRecorder reports cache outcomes.
func WithRecorder(r Recorder) Option {
	return func(a *Assembler) { a.recorder = r }
}

// Assembler builds and caches permission snapshots. Cache failures never
// fail a read; the snapshot is recomputed from the Source instead.
type Assembler struct {
	source   Source
	store    cache.Store
	ttl      time.Duration
	logger   *slog.Logger
	recorder Recorder
	group    singleflight.Group
}

// NewAssembler creates an Assembler.
func NewAssembler(source Source, store cache.Store, opts ...Option) (*Assembler, error) {
	if source == nil {
		return nil, oops.Code("PERMISSION_INVALID_CONFIG").Errorf("permission source is required")
	}
	if store == nil {
		return nil, oops.Code("PERMISSION_INVALID_CONFIG").Errorf("cache store is required")
	}
	a := &Assembler{source: source, store: store, ttl: DefaultSnapshotTTL, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// EffectivePermissions returns the sorted permission codes of an account.
func (a *Assembler) EffectivePermissions(ctx context.Context, accountID string) ([]string, error) {
	snap, err := a.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), snap.Permissions...), nil
}

// MenuTree returns the visible menus below rootParentID as a tree.
func (a *Assembler) MenuTree(ctx context.Context, accountID string, rootParentID int64) ([]*MenuNode, error) {
	snap, err := a.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return BuildTree(snap.Menus, rootParentID), nil
}

// Snapshot returns the account's cached snapshot, computing it on a miss.
// Concurrent misses for the same key share one computation.
func (a *Assembler) Snapshot(ctx context.Context, accountID string) (*Snapshot, error) {
	if accountID == "" {
		return nil, oops.Code("PERMISSION_ACCOUNT_REQUIRED").Errorf("account id is required")
	}

	key, err := a.snapshotKey(ctx, accountID)
	if err != nil {
		a.warn(ctx, "permission generation read failed", accountID, err)
		a.record(CacheBypass)
		return a.compute(ctx, accountID)
	}

	if raw, err := a.store.Get(ctx, key); err == nil {
		var snap Snapshot
		if jerr := json.Unmarshal([]byte(raw), &snap); jerr == nil {
			a.record(CacheHit)
			return &snap, nil
		}
		a.logger.WarnContext(ctx, "discarding undecodable permission snapshot", "account_id", accountID)
	} else if !errors.Is(err, cache.ErrMiss) {
		a.warn(ctx, "permission snapshot read failed", accountID, err)
	}
	a.record(CacheMiss)

	v, err, _ := a.group.Do(key, func() (any, error) {
		snap, err := a.compute(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if raw, jerr := json.Marshal(snap); jerr == nil {
			if serr := a.store.Set(ctx, key, string(raw), a.ttl); serr != nil {
				a.warn(ctx, "permission snapshot write failed", accountID, serr)
			}
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (a *Assembler) compute(ctx context.Context, accountID string) (*Snapshot, error) {
	roles, err := a.source.Roles(ctx, accountID)
	if err != nil {
		return nil, oops.Code("PERMISSION_LOAD_FAILED").With("account_id", accountID).Wrap(err)
	}
	menus, err := a.source.VisibleMenus(ctx, accountID)
	if err != nil {
		return nil, oops.Code("PERMISSION_LOAD_FAILED").With("account_id", accountID).Wrap(err)
	}
	if menus == nil {
		menus = []Menu{}
	}
	return &Snapshot{
		Roles:       RoleCodes(roles),
		Permissions: Assemble(roles, menus),
		Menus:       menus,
	}, nil
}

func (a *Assembler) snapshotKey(ctx context.Context, accountID string) (string, error) {
	global, err := a.generation(ctx, cache.PermissionGenerationKey)
	if err != nil {
		return "", err
	}
	account, err := a.generation(ctx, cache.PermissionAccountGenerationKey(accountID))
	if err != nil {
		return "", err
	}
	return cache.PermissionSnapshotKey(accountID, global, account), nil
}

func (a *Assembler) generation(ctx context.Context, key string) (int64, error) {
	raw, err := a.store.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, oops.With("key", key).Wrap(err)
	}
	return n, nil
}

// InvalidateAccount drops the account's snapshot. It satisfies
// token.Invalidator.
func (a *Assembler) InvalidateAccount(ctx context.Context, accountID string) error {
	if _, err := a.store.Incr(ctx, cache.PermissionAccountGenerationKey(accountID)); err != nil {
		return oops.Code("PERMISSION_INVALIDATE_FAILED").With("account_id", accountID).Wrap(err)
	}
	return nil
}

// InvalidateRole drops the snapshots of every holder of a role.
func (a *Assembler) InvalidateRole(ctx context.Context, roleID int64) error {
	holders, err := a.source.AccountsWithRole(ctx, roleID)
	if err != nil {
		return oops.Code("PERMISSION_INVALIDATE_FAILED").With("role_id", roleID).Wrap(err)
	}
	var errs []error
	for _, id := range holders {
		if err := a.InvalidateAccount(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return oops.Code("PERMISSION_INVALIDATE_FAILED").
			With("role_id", roleID).
			With("failed", len(errs)).
			Wrap(errors.Join(errs...))
	}
	return nil
}

// InvalidateAll drops every snapshot. Used after menu structure changes.
func (a *Assembler) InvalidateAll(ctx context.Context) error {
	if _, err := a.store.Incr(ctx, cache.PermissionGenerationKey); err != nil {
		return oops.Code("PERMISSION_INVALIDATE_FAILED").Wrap(err)
	}
	if err := a.store.DeletePattern(ctx, cache.PermissionSnapshotPattern); err != nil {
		// superseded snapshots still expire on their own
		a.warn(ctx, "permission snapshot sweep failed", "", err)
	}
	return nil
}

func (a *Assembler) record(result string) {
	if a.recorder != nil {
		a.recorder.RecordPermissionCache(result)
	}
}

func (a *Assembler) warn(ctx context.Context, msg, accountID string, err error) {
	if accountID != "" {
		err = oops.With("account_id", accountID).Wrap(err)
	}
	errutil.LogErrorContext(ctx, a.logger, msg, err)
}
