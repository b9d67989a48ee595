// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package cli_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

var _ = Describe("Migrate Command", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		out, err := authcore(ctx, "migrate", "down", "--all")
		Expect(err).NotTo(HaveOccurred(), "reset failed: %s", out)
	})

	It("creates the account and grant tables", func() {
		out, err := authcore(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", out)
		Expect(out).To(ContainSubstring("Migrations applied"))
		Expect(out).To(ContainSubstring("Pending: none"))

		for _, table := range []string{"accounts", "provider_bindings", "roles", "menus", "role_menus", "account_roles"} {
			Expect(tableExists(ctx, table)).To(BeTrue(), "missing table %s", table)
		}
	})

	It("is idempotent", func() {
		out, err := authcore(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "first run failed: %s", out)

		out, err = authcore(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "second run failed: %s", out)
		Expect(out).To(ContainSubstring("Current version: 2"))
	})

	It("rolls back one step at a time", func() {
		out, err := authcore(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", out)

		out, err = authcore(ctx, "migrate", "down")
		Expect(err).NotTo(HaveOccurred(), "migrate down failed: %s", out)
		Expect(out).To(ContainSubstring("Current version: 1"))
		Expect(tableExists(ctx, "roles")).To(BeFalse())
		Expect(tableExists(ctx, "accounts")).To(BeTrue())
	})

	It("reports the schema version", func() {
		out, err := authcore(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", out)

		out, err = authcore(ctx, "migrate", "version")
		Expect(err).NotTo(HaveOccurred(), "migrate version failed: %s", out)
		Expect(out).To(ContainSubstring("Applied: 1, 2"))
	})
})
