// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth orchestrates the login flows on top of the identity, token,
// verification and permission components.
//
// # Flows
//
//   - Password: LoginWithPassword, RequestPasswordReset, ResetPassword
//   - One-time code: SendCode, LoginWithCode, Register
//   - Provider: StartOAuth, CompleteOAuth, ExchangeLogin
//   - Session: Refresh, Logout, WhoAmI
//
// Every flow that signs an account in ends in a token pair issued for the
// account's principal. Ephemeral flow state (pending provider requests,
// login exchange codes, password reset tokens) lives in the session cache
// and is consumed exactly once.
package auth
