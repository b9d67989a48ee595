// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package permission

import (
	"context"
	"errors"
	"sort"
)

// BaselinePermission is granted to every authenticated account.
const BaselinePermission = "ROLE_USER"

// RolePrefix marks permissions derived from a role rather than a menu.
const RolePrefix = "ROLE_"

// ErrNotFound is returned by admin operations on a missing row.
var ErrNotFound = errors.New("not found")

// MenuType classifies a menu entry.
type MenuType string

// Menu types.
const (
	MenuTypeDirectory MenuType = "directory"
	MenuTypeMenu      MenuType = "menu"
	MenuTypeButton    MenuType = "button"
)

// Status of a role or menu. Only active rows are ever visible.
type Status string

// Statuses.
const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Role is a named bundle of menus.
type Role struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Permission string `json:"permission"`
	Status     Status `json:"status"`
}

// Menu is one entry of the navigation hierarchy. ParentID 0 marks a root.
type Menu struct {
	ID         int64    `json:"id"`
	ParentID   int64    `json:"parent_id"`
	Label      string   `json:"label"`
	Permission string   `json:"permission,omitempty"`
	Icon       string   `json:"icon,omitempty"`
	Href       string   `json:"href,omitempty"`
	Type       MenuType `json:"type"`
	SortNo     int      `json:"sort_no"`
}

// MenuNode is a menu with its visible children.
type MenuNode struct {
	Menu
	Children []*MenuNode `json:"children,omitempty"`
}

// Source reads grants from the durable store. Implementations return only
// active roles and active menus.
type Source interface {
	// Roles lists the roles assigned to an account.
	Roles(ctx context.Context, accountID string) ([]Role, error)
	// VisibleMenus lists the distinct menus reachable through the account's
	// roles, in one round trip.
	VisibleMenus(ctx context.Context, accountID string) ([]Menu, error)
	// AccountsWithRole lists the holders of a role.
	AccountsWithRole(ctx context.Context, roleID int64) ([]string, error)
}

// Assemble computes the effective permission set from roles and menus.
// The result always contains BaselinePermission, has no duplicates and is
// sorted.
func Assemble(roles []Role, menus []Menu) []string {
	set := map[string]struct{}{BaselinePermission: {}}
	for _, m := range menus {
		if m.Permission != "" {
			set[m.Permission] = struct{}{}
		}
	}
	for _, r := range roles {
		if r.Permission != "" {
			set[RolePrefix+r.Permission] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RoleCodes extracts role codes in order.
func RoleCodes(roles []Role) []string {
	codes := make([]string, 0, len(roles))
	for _, r := range roles {
		codes = append(codes, r.Code)
	}
	sort.Strings(codes)
	return codes
}

// BuildTree arranges menus under rootParentID. Siblings are ordered by
// SortNo, then ID. Menus whose parent is not visible are dropped.
func BuildTree(menus []Menu, rootParentID int64) []*MenuNode {
	children := make(map[int64][]Menu, len(menus))
	for _, m := range menus {
		children[m.ParentID] = append(children[m.ParentID], m)
	}
	for _, list := range children {
		sort.Slice(list, func(i, j int) bool {
			if list[i].SortNo != list[j].SortNo {
				return list[i].SortNo < list[j].SortNo
			}
			return list[i].ID < list[j].ID
		})
	}
	return buildLevel(children, rootParentID)
}

func buildLevel(children map[int64][]Menu, parentID int64) []*MenuNode {
	list := children[parentID]
	if len(list) == 0 {
		return nil
	}
	nodes := make([]*MenuNode, 0, len(list))
	for _, m := range list {
		nodes = append(nodes, &MenuNode{Menu: m, Children: buildLevel(children, m.ID)})
	}
	return nodes
}
