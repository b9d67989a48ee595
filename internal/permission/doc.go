// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package permission resolves what an account may do: its effective
// permission codes and the menu tree its roles make visible.
//
// Results are cached per account. A snapshot key embeds a global generation
// and a per-account generation; invalidation bumps a generation so stale
// snapshots stop being addressed even when a recompute races the bump.
package permission
