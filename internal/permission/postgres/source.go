// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres reads and writes role and menu grants on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/permission"
)

// poolIface is satisfied by *pgxpool.Pool and pgxmock.PgxPoolIface.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements permission.Source and permission.Admin.
type Store struct {
	pool poolIface
}

// NewStore creates a Store.
func NewStore(pool poolIface) *Store {
	return &Store{pool: pool}
}

// Roles implements permission.Source.
func (s *Store) Roles(ctx context.Context, accountID string) ([]permission.Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.code, r.name, r.permission, r.status
		FROM roles r
		JOIN account_roles ar ON ar.role_id = r.id
		WHERE ar.account_id = $1 AND r.status = 'active'
		ORDER BY r.id`, accountID)
	if err != nil {
		return nil, oops.With("operation", "list account roles").With("account_id", accountID).Wrap(err)
	}
	defer rows.Close()

	var roles []permission.Role
	for rows.Next() {
		var r permission.Role
		var status string
		if err := rows.Scan(&r.ID, &r.Code, &r.Name, &r.Permission, &status); err != nil {
			return nil, oops.With("operation", "scan role").Wrap(err)
		}
		r.Status = permission.Status(status)
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate roles").Wrap(err)
	}
	return roles, nil
}

// VisibleMenus implements permission.Source.
func (s *Store) VisibleMenus(ctx context.Context, accountID string) ([]permission.Menu, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT m.id, m.parent_id, m.label, m.permission, m.icon, m.href, m.menu_type, m.sort_no
		FROM menus m
		JOIN role_menus rm ON rm.menu_id = m.id
		JOIN roles r ON r.id = rm.role_id AND r.status = 'active'
		JOIN account_roles ar ON ar.role_id = r.id
		WHERE ar.account_id = $1 AND m.status = 'active'
		ORDER BY m.parent_id, m.sort_no, m.id`, accountID)
	if err != nil {
		return nil, oops.With("operation", "list visible menus").With("account_id", accountID).Wrap(err)
	}
	defer rows.Close()

	var menus []permission.Menu
	for rows.Next() {
		var m permission.Menu
		var menuType string
		if err := rows.Scan(&m.ID, &m.ParentID, &m.Label, &m.Permission, &m.Icon, &m.Href, &menuType, &m.SortNo); err != nil {
			return nil, oops.With("operation", "scan menu").Wrap(err)
		}
		m.Type = permission.MenuType(menuType)
		menus = append(menus, m)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate menus").Wrap(err)
	}
	return menus, nil
}

// AccountsWithRole implements permission.Source.
func (s *Store) AccountsWithRole(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id FROM account_roles WHERE role_id = $1 ORDER BY account_id`, roleID)
	if err != nil {
		return nil, oops.With("operation", "list role holders").With("role_id", roleID).Wrap(err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, oops.With("operation", "scan role holders").Wrap(err)
	}
	return ids, nil
}

func foreignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}
