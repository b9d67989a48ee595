// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package token issues and rotates credential pairs.
//
// An access token is a short-lived HS256 JWT that is validated without any
// lookup. A refresh token is an opaque random string whose SHA-256 hash keys
// a cache entry holding the principal; it is consumed exactly once when
// exchanged for a new pair. Every refresh hash is also recorded in a
// per-account set so that all of an account's sessions can be revoked.
package token
