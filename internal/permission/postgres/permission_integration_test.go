// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authcore/internal/cache"
	"github.com/holomush/authcore/internal/permission"
	"github.com/holomush/authcore/internal/permission/postgres"
)

var _ = Describe("Permission store", func() {
	var (
		ctx   context.Context
		store *postgres.Store
	)

	insertAccount := func(handle int64) string {
		id := ulid.Make().String()
		_, err := testPool.Exec(ctx,
			`INSERT INTO accounts (id, handle, username, account_type, status, nickname, created_at, updated_at)
			 VALUES ($1, $2, $3, 'member', 'active', '', NOW(), NOW())`,
			id, handle, "u"+ulid.Make().String())
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	insertRole := func(code, perm, status string) int64 {
		var id int64
		err := testPool.QueryRow(ctx,
			`INSERT INTO roles (code, name, permission, status) VALUES ($1, $1, $2, $3) RETURNING id`,
			code, perm, status).Scan(&id)
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	insertMenu := func(parent int64, label, perm string, sortNo int, status string) int64 {
		var id int64
		err := testPool.QueryRow(ctx,
			`INSERT INTO menus (parent_id, label, permission, sort_no, status) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			parent, label, perm, sortNo, status).Scan(&id)
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		store = postgres.NewStore(testPool)
	})

	It("assembles permissions and a menu tree from active grants", func() {
		acct := insertAccount(10000001)
		admin := insertRole("admin", "admin", "active")
		retired := insertRole("retired", "retired", "disabled")

		system := insertMenu(0, "System", "", 1, "active")
		users := insertMenu(system, "Users", "sys:user:list", 2, "active")
		roles := insertMenu(system, "Roles", "sys:role:list", 1, "active")
		hidden := insertMenu(system, "Hidden", "sys:hidden", 3, "disabled")
		legacy := insertMenu(0, "Legacy", "legacy:view", 0, "active")

		Expect(store.AssignRole(ctx, acct, admin)).To(Succeed())
		Expect(store.AssignRole(ctx, acct, admin)).To(Succeed())
		Expect(store.AssignRole(ctx, acct, retired)).To(Succeed())
		Expect(store.ReplaceRoleMenus(ctx, admin, []int64{system, users, roles, hidden})).To(Succeed())
		Expect(store.ReplaceRoleMenus(ctx, retired, []int64{legacy, users})).To(Succeed())

		assembler, err := permission.NewAssembler(store, cache.NewMemoryStore(64))
		Expect(err).NotTo(HaveOccurred())

		perms, err := assembler.EffectivePermissions(ctx, acct)
		Expect(err).NotTo(HaveOccurred())
		Expect(perms).To(Equal([]string{"ROLE_USER", "ROLE_admin", "sys:role:list", "sys:user:list"}))

		tree, err := assembler.MenuTree(ctx, acct, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(tree).To(HaveLen(1))
		Expect(tree[0].Label).To(Equal("System"))
		Expect(tree[0].Children).To(HaveLen(2))
		Expect(tree[0].Children[0].Label).To(Equal("Roles"))
		Expect(tree[0].Children[1].Label).To(Equal("Users"))

		holders, err := store.AccountsWithRole(ctx, admin)
		Expect(err).NotTo(HaveOccurred())
		Expect(holders).To(ConsistOf(acct))
	})

	It("refuses to move a menu under its own descendant", func() {
		root := insertMenu(0, "Root", "", 0, "active")
		child := insertMenu(root, "Child", "", 0, "active")
		grandchild := insertMenu(child, "Grandchild", "", 0, "active")

		ancestors, err := store.AncestorIDs(ctx, grandchild)
		Expect(err).NotTo(HaveOccurred())
		Expect(ancestors).To(Equal([]int64{grandchild, child, root}))

		err = store.SetMenuParent(ctx, root, grandchild)
		Expect(err).To(MatchError(permission.ErrCycle))

		Expect(store.SetMenuParent(ctx, grandchild, root)).To(Succeed())
		ancestors, err = store.AncestorIDs(ctx, grandchild)
		Expect(err).NotTo(HaveOccurred())
		Expect(ancestors).To(Equal([]int64{grandchild, root}))

		Expect(store.SetMenuParent(ctx, 9999, 0)).To(MatchError(permission.ErrNotFound))
	})

	It("reports unknown rows on assignment", func() {
		role := insertRole("member", "member", "active")
		Expect(store.AssignRole(ctx, "no-such-account", role)).To(MatchError(permission.ErrNotFound))
		Expect(store.ReplaceRoleMenus(ctx, 9999, nil)).To(MatchError(permission.ErrNotFound))
		Expect(store.ReplaceRoleMenus(ctx, role, []int64{9999})).To(MatchError(permission.ErrNotFound))
	})
})
