// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/permission"
)

// maxMenuDepth bounds ancestor walks over rows written before the cycle
// guard existed.
const maxMenuDepth = 64

// ancestorChain walks from the menu identified by the start placeholder up
// to its root.
func ancestorChain(start string) string {
	return `WITH RECURSIVE chain(id, parent_id, depth) AS (
		SELECT id, parent_id, 0 FROM menus WHERE id = ` + start + `
		UNION ALL
		SELECT m.id, m.parent_id, c.depth + 1
		FROM menus m JOIN chain c ON m.id = c.parent_id
		WHERE c.depth < ` + strconv.Itoa(maxMenuDepth) + `
	)`
}

// AncestorIDs implements permission.Admin.
func (s *Store) AncestorIDs(ctx context.Context, menuID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, ancestorChain("$1")+` SELECT id FROM chain ORDER BY depth`, menuID)
	if err != nil {
		return nil, oops.With("operation", "list menu ancestors").With("menu_id", menuID).Wrap(err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, oops.With("operation", "scan menu ancestors").Wrap(err)
	}
	if len(ids) == 0 {
		return nil, oops.With("menu_id", menuID).Wrap(permission.ErrNotFound)
	}
	return ids, nil
}

// SetMenuParent implements permission.Admin. The menus table is locked
// against concurrent moves while the ancestor chain of the new parent is
// checked.
func (s *Store) SetMenuParent(ctx context.Context, menuID, parentID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin move menu").Wrap(err)
	}

	if _, err := tx.Exec(ctx, `LOCK TABLE menus IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		_ = tx.Rollback(ctx)
		return oops.With("operation", "lock menus").Wrap(err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE menus SET parent_id = $2, updated_at = NOW()
		WHERE id = $1 AND NOT EXISTS (`+ancestorChain("$2")+` SELECT 1 FROM chain WHERE id = $1)`,
		menuID, parentID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return oops.With("operation", "move menu").With("menu_id", menuID).Wrap(err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM menus WHERE id = $1)`, menuID).Scan(&exists); err != nil {
			_ = tx.Rollback(ctx)
			return oops.With("operation", "check menu").With("menu_id", menuID).Wrap(err)
		}
		_ = tx.Rollback(ctx)
		if !exists {
			return oops.With("menu_id", menuID).Wrap(permission.ErrNotFound)
		}
		return oops.With("menu_id", menuID).With("parent_id", parentID).Wrap(permission.ErrCycle)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.With("operation", "commit move menu").Wrap(err)
	}
	return nil
}

// AssignRole implements permission.Admin. Assigning a held role is a no-op.
func (s *Store) AssignRole(ctx context.Context, accountID string, roleID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO account_roles (account_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		accountID, roleID)
	if foreignKeyViolation(err) {
		return oops.With("account_id", accountID).With("role_id", roleID).Wrap(permission.ErrNotFound)
	}
	if err != nil {
		return oops.With("operation", "assign role").Wrap(err)
	}
	return nil
}

// UnassignRole implements permission.Admin. Removing an absent role is a
// no-op.
func (s *Store) UnassignRole(ctx context.Context, accountID string, roleID int64) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM account_roles WHERE account_id = $1 AND role_id = $2`,
		accountID, roleID); err != nil {
		return oops.With("operation", "unassign role").Wrap(err)
	}
	return nil
}

// ReplaceRoleMenus implements permission.Admin.
func (s *Store) ReplaceRoleMenus(ctx context.Context, roleID int64, menuIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin replace role menus").Wrap(err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
		_ = tx.Rollback(ctx)
		return oops.With("operation", "check role").Wrap(err)
	}
	if !exists {
		_ = tx.Rollback(ctx)
		return oops.With("role_id", roleID).Wrap(permission.ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM role_menus WHERE role_id = $1`, roleID); err != nil {
		_ = tx.Rollback(ctx)
		return oops.With("operation", "clear role menus").Wrap(err)
	}
	if len(menuIDs) > 0 {
		_, err := tx.Exec(ctx,
			`INSERT INTO role_menus (role_id, menu_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`,
			roleID, menuIDs)
		if err != nil {
			_ = tx.Rollback(ctx)
			if foreignKeyViolation(err) {
				return oops.With("role_id", roleID).Wrap(permission.ErrNotFound)
			}
			return oops.With("operation", "insert role menus").Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.With("operation", "commit replace role menus").Wrap(err)
	}
	return nil
}
