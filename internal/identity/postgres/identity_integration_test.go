// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/identity/postgres"
)

var _ = Describe("Identity repositories", func() {
	var (
		ctx      context.Context
		accounts *postgres.AccountRepository
		bindings *postgres.BindingRepository
		sequence *postgres.HandleSequence
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		accounts = postgres.NewAccountRepository(testPool)
		bindings = postgres.NewBindingRepository(testPool)
		sequence = postgres.NewHandleSequence(testPool)
	})

	newAccount := func(handle int64, email string) *identity.Account {
		now := time.Now().UTC().Truncate(time.Microsecond)
		a := &identity.Account{
			ID:        ulid.Make(),
			Handle:    handle,
			Username:  identity.HandleUsername(handle),
			Type:      identity.AccountTypeMember,
			Status:    identity.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if email != "" {
			a.Email = &email
		}
		return a
	}

	newBinding := func(accountID ulid.ULID, provider, openID string) *identity.Binding {
		now := time.Now().UTC().Truncate(time.Microsecond)
		return &identity.Binding{
			ID: ulid.Make(), AccountID: accountID, Provider: provider, OpenID: openID,
			CreatedAt: now, UpdatedAt: now,
		}
	}

	Describe("HandleSequence", func() {
		It("hands out increasing handles above the base", func() {
			first, err := sequence.Next(ctx)
			Expect(err).NotTo(HaveOccurred())
			second, err := sequence.Next(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(BeNumerically(">", identity.DefaultHandleBase))
			Expect(second).To(Equal(first + 1))
		})
	})

	Describe("CreateWithBinding", func() {
		It("stores account and binding together", func() {
			a := newAccount(20000001, "Neo@Example.com")
			b := newBinding(a.ID, "github", "gh-1")
			b.RawClaims = []byte(`{"login":"neo"}`)
			Expect(accounts.CreateWithBinding(ctx, a, b)).To(Succeed())

			got, err := accounts.GetByEmail(ctx, "neo@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(a.ID))
			Expect(got.PasswordHash).To(BeEmpty())

			bound, err := bindings.GetByOpenID(ctx, "github", "gh-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(bound.AccountID).To(Equal(a.ID))
			Expect(string(bound.RawClaims)).To(MatchJSON(`{"login":"neo"}`))
		})

		It("writes nothing when the binding is taken", func() {
			first := newAccount(20000002, "")
			Expect(accounts.CreateWithBinding(ctx, first, newBinding(first.ID, "github", "dup"))).To(Succeed())

			second := newAccount(20000003, "")
			err := accounts.CreateWithBinding(ctx, second, newBinding(second.ID, "github", "dup"))
			Expect(err).To(MatchError(identity.ErrDuplicate))

			_, err = accounts.GetByID(ctx, second.ID)
			Expect(err).To(MatchError(identity.ErrNotFound))
		})

		It("lets exactly one of many concurrent creators win", func() {
			const callers = 8
			var wg sync.WaitGroup
			results := make([]error, callers)
			for i := range callers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					a := newAccount(int64(30000000+i), "")
					results[i] = accounts.CreateWithBinding(ctx, a, newBinding(a.ID, "wechat", "race"))
				}()
			}
			wg.Wait()

			wins := 0
			for _, err := range results {
				if err == nil {
					wins++
					continue
				}
				Expect(err).To(MatchError(identity.ErrDuplicate))
			}
			Expect(wins).To(Equal(1))
		})
	})

	Describe("bindings", func() {
		It("finds the latest binding by union id and rewrites open ids", func() {
			a := newAccount(20000010, "")
			b := newBinding(a.ID, "wechat", "o-old")
			union := "u-1"
			b.UnionID = &union
			Expect(accounts.CreateWithBinding(ctx, a, b)).To(Succeed())

			found, err := bindings.GetByUnionID(ctx, "wechat", "u-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(b.ID))

			Expect(bindings.UpdateOpenID(ctx, b.ID, "o-new", nil, time.Now())).To(Succeed())
			_, err = bindings.GetByOpenID(ctx, "wechat", "o-old")
			Expect(err).To(MatchError(identity.ErrNotFound))
			moved, err := bindings.GetByOpenID(ctx, "wechat", "o-new")
			Expect(err).NotTo(HaveOccurred())
			Expect(moved.UnionIDValue()).To(Equal("u-1"))
		})

		It("lists every binding of an account", func() {
			a := newAccount(20000020, "")
			Expect(accounts.CreateWithBinding(ctx, a, newBinding(a.ID, "github", "g"))).To(Succeed())
			Expect(bindings.Create(ctx, newBinding(a.ID, "phone", "+15550100"))).To(Succeed())

			list, err := bindings.ListByAccount(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
		})
	})

	Describe("login state", func() {
		It("persists lockout and resets on password change", func() {
			a := newAccount(20000030, "")
			Expect(accounts.Create(ctx, a)).To(Succeed())

			now := time.Now().UTC().Truncate(time.Microsecond)
			for range identity.LockoutThreshold {
				a.RecordFailure(now)
			}
			Expect(accounts.UpdateLoginState(ctx, a)).To(Succeed())

			got, err := accounts.GetByID(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.IsLocked(now)).To(BeTrue())

			Expect(accounts.UpdatePassword(ctx, a.ID, "$argon2id$new")).To(Succeed())
			got, err = accounts.GetByID(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.FailedAttempts).To(BeZero())
			Expect(got.LockedUntil).To(BeNil())
			Expect(got.PasswordHash).To(Equal("$argon2id$new"))
		})

		It("reports nickname usage", func() {
			a := newAccount(20000040, "")
			a.Nickname = "trinity"
			Expect(accounts.Create(ctx, a)).To(Succeed())

			taken, err := accounts.NicknameTaken(ctx, "trinity")
			Expect(err).NotTo(HaveOccurred())
			Expect(taken).To(BeTrue())
		})
	})
})
