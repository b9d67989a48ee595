// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package identity maps inbound credentials and provider claims to a
// canonical Account.
//
// A Resolver walks a fixed matching order: an exact (provider, open_id)
// binding, then a provider-scoped union_id binding when the provider groups
// identities that way, then an existing account with the same email or
// phone. When nothing matches it creates an account and its first binding
// together. Losing a creation race to a concurrent request surfaces as
// ErrDuplicate from the repository, after which the resolver re-queries and
// adopts the winner's account.
package identity
