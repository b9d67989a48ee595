// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the authentication flows as a JSON HTTP API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/token"
	"github.com/holomush/authcore/internal/verification"
)

// Permissions required by the administrative routes.
const (
	PermMenuWrite = "system:menu:write"
	PermRoleWrite = "system:role:write"
)

// AuthService is the subset of *auth.Service the API calls.
type AuthService interface {
	LoginWithPassword(ctx context.Context, login, password string) (*auth.Session, error)
	SendCode(ctx context.Context, channel verification.Channel, destination string) error
	LoginWithCode(ctx context.Context, channel verification.Channel, destination, code string) (*auth.Session, error)
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.Session, error)
	StartOAuth(ctx context.Context, providerName, redirectURI string, accountType identity.AccountType) (string, error)
	CompleteOAuth(ctx context.Context, providerName, state, code string) (string, error)
	ExchangeLogin(ctx context.Context, code string) (token.Pair, error)
	Refresh(ctx context.Context, refresh string) (token.Pair, error)
	Logout(ctx context.Context, accountID string) error
	WhoAmI(ctx context.Context, accountID string) (*auth.Profile, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	NicknameAvailable(ctx context.Context, nickname string) (bool, error)
}

// TokenValidator checks bearer access tokens.
type TokenValidator interface {
	Validate(access string) (*token.Claims, error)
}

// PermissionSource returns an account's effective permissions.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, accountID string) ([]string, error)
}

// GrantWriter changes grants and menu structure. *permission.MenuWriter
// satisfies it.
type GrantWriter interface {
	SetParent(ctx context.Context, menuID, parentID int64) error
	AssignRole(ctx context.Context, accountID string, roleID int64) error
	UnassignRole(ctx context.Context, accountID string, roleID int64) error
	ReplaceRoleMenus(ctx context.Context, roleID int64, menuIDs []int64) error
}

// RequestRecorder observes served requests. *observability.Metrics
// satisfies it.
type RequestRecorder interface {
	RecordRequest(method, route string, status int, elapsed time.Duration)
}

// Options configures the router. Auth and Tokens are required; the admin
// routes are mounted only when Grants and Permissions are both set.
type Options struct {
	Auth        AuthService
	Tokens      TokenValidator
	Permissions PermissionSource
	Grants      GrantWriter
	Metrics     RequestRecorder
	Logger      *slog.Logger
	CORSOrigins []string
}

type api struct {
	auth   AuthService
	grants GrantWriter
	logger *slog.Logger
}

// NewRouter builds the API router.
func NewRouter(opts Options) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{auth: opts.Auth, grants: opts.Grants, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	bearer := authenticate(opts.Tokens, logger)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/login", a.handleLogin)
		r.Post("/code", a.handleSendCode)
		r.Post("/login/code", a.handleLoginWithCode)
		r.Post("/register", a.handleRegister)
		r.Get("/oauth2/{provider}", a.handleStartOAuth)
		r.Get("/oauth2/{provider}/callback", a.handleOAuthCallback)
		r.Post("/exchange", a.handleExchange)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/password/forgot", a.handleForgotPassword)
		r.Post("/password/reset", a.handleResetPassword)
		r.Get("/nickname/available", a.handleNicknameAvailable)

		r.Group(func(r chi.Router) {
			r.Use(bearer)
			r.Post("/logout", a.handleLogout)
			r.Get("/me", a.handleMe)
		})
	})

	if opts.Grants != nil && opts.Permissions != nil {
		r.Route("/api/v1/admin", func(r chi.Router) {
			r.Use(bearer)
			r.With(RequirePermission(opts.Permissions, logger, PermMenuWrite)).
				Put("/menus/{menuID}/parent", a.handleSetMenuParent)
			r.Group(func(r chi.Router) {
				r.Use(RequirePermission(opts.Permissions, logger, PermRoleWrite))
				r.Put("/accounts/{accountID}/roles/{roleID}", a.handleAssignRole)
				r.Delete("/accounts/{accountID}/roles/{roleID}", a.handleUnassignRole)
				r.Put("/roles/{roleID}/menus", a.handleReplaceRoleMenus)
			})
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, logger, errNotFound)
	})
	return r
}
