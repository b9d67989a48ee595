// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package permission

import (
	"context"
	"errors"
	"slices"

	"github.com/samber/oops"
)

// ErrCycle is returned by an Admin when a parent change would close a loop.
var ErrCycle = errors.New("menu cycle")

// Admin mutates grants and menu structure in the durable store.
type Admin interface {
	// AncestorIDs lists the ids on the path from menuID up to a root,
	// including menuID itself.
	AncestorIDs(ctx context.Context, menuID int64) ([]int64, error)
	// SetMenuParent re-parents a menu. Implementations return ErrCycle if
	// the move would create a loop at commit time.
	SetMenuParent(ctx context.Context, menuID, parentID int64) error
	AssignRole(ctx context.Context, accountID string, roleID int64) error
	UnassignRole(ctx context.Context, accountID string, roleID int64) error
	ReplaceRoleMenus(ctx context.Context, roleID int64, menuIDs []int64) error
}

// Invalidator drops cached snapshots. *Assembler implements it.
type Invalidator interface {
	InvalidateAccount(ctx context.Context, accountID string) error
	InvalidateRole(ctx context.Context, roleID int64) error
	InvalidateAll(ctx context.Context) error
}

// MenuWriter owns the write-side invariants of the menu hierarchy and keeps
// the snapshot cache coherent with every grant change.
type MenuWriter struct {
	admin Admin
	inv   Invalidator
}

// NewMenuWriter creates a MenuWriter.
func NewMenuWriter(admin Admin, inv Invalidator) (*MenuWriter, error) {
	if admin == nil || inv == nil {
		return nil, oops.Code("PERMISSION_INVALID_CONFIG").Errorf("admin store and invalidator are required")
	}
	return &MenuWriter{admin: admin, inv: inv}, nil
}

// SetParent moves menuID under parentID (0 for a root). A parent that is the
// menu itself or one of its descendants fails with MENU_CYCLE.
func (w *MenuWriter) SetParent(ctx context.Context, menuID, parentID int64) error {
	cycle := oops.Code("MENU_CYCLE").With("menu_id", menuID).With("parent_id", parentID)
	if menuID == parentID {
		return cycle.Errorf("menu cannot be its own parent")
	}
	if parentID != 0 {
		ancestors, err := w.admin.AncestorIDs(ctx, parentID)
		if err != nil {
			return writeErr(err, "MENU_UPDATE_FAILED").With("menu_id", parentID).Wrap(err)
		}
		if slices.Contains(ancestors, menuID) {
			return cycle.Errorf("parent is a descendant of the menu")
		}
	}
	if err := w.admin.SetMenuParent(ctx, menuID, parentID); err != nil {
		if errors.Is(err, ErrCycle) {
			return cycle.Wrap(err)
		}
		return writeErr(err, "MENU_UPDATE_FAILED").With("menu_id", menuID).Wrap(err)
	}
	return w.inv.InvalidateAll(ctx)
}

// AssignRole grants a role to an account.
func (w *MenuWriter) AssignRole(ctx context.Context, accountID string, roleID int64) error {
	if err := w.admin.AssignRole(ctx, accountID, roleID); err != nil {
		return writeErr(err, "ROLE_ASSIGN_FAILED").With("account_id", accountID).With("role_id", roleID).Wrap(err)
	}
	return w.inv.InvalidateAccount(ctx, accountID)
}

// UnassignRole revokes a role from an account.
func (w *MenuWriter) UnassignRole(ctx context.Context, accountID string, roleID int64) error {
	if err := w.admin.UnassignRole(ctx, accountID, roleID); err != nil {
		return writeErr(err, "ROLE_ASSIGN_FAILED").With("account_id", accountID).With("role_id", roleID).Wrap(err)
	}
	return w.inv.InvalidateAccount(ctx, accountID)
}

// ReplaceRoleMenus sets the exact menu list of a role.
func (w *MenuWriter) ReplaceRoleMenus(ctx context.Context, roleID int64, menuIDs []int64) error {
	if err := w.admin.ReplaceRoleMenus(ctx, roleID, menuIDs); err != nil {
		return writeErr(err, "ROLE_MENUS_FAILED").With("role_id", roleID).Wrap(err)
	}
	return w.inv.InvalidateRole(ctx, roleID)
}

func writeErr(err error, code string) oops.OopsErrorBuilder {
	if errors.Is(err, ErrNotFound) {
		return oops.Code("PERMISSION_NOT_FOUND")
	}
	return oops.Code(code)
}
