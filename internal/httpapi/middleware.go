// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/permission"
	"github.com/holomush/authcore/internal/token"
)

type claimsKey struct{}

// ClaimsFromContext returns the access token claims of an authenticated
// request.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*token.Claims)
	return c, ok
}

// WithClaims stores claims on ctx.
func WithClaims(ctx context.Context, c *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

var errUnauthenticated = oops.Code("AUTH_UNAUTHENTICATED").Errorf("a bearer access token is required")

// authenticate requires a valid bearer access token.
func authenticate(tokens TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeError(w, r, logger, errUnauthenticated)
				return
			}
			claims, err := tokens.Validate(raw)
			if err != nil {
				writeError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, raw, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, token.TokenTypeBearer) {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// RequirePermission rejects requests whose account lacks any of required.
// Granted permissions may be glob patterns such as "system:**". It must run
// after authentication.
func RequirePermission(perms PermissionSource, logger *slog.Logger, required ...string) func(http.Handler) http.Handler {
	matcher := permission.NewMatcher()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, r, logger, errUnauthenticated)
				return
			}
			granted, err := perms.EffectivePermissions(r.Context(), claims.AccountID())
			if err != nil {
				writeError(w, r, logger, err)
				return
			}
			if !matcher.AllowsAll(granted, required...) {
				writeError(w, r, logger, oops.Code("PERMISSION_DENIED").
					With("account_id", claims.AccountID()).
					With("required", required).
					Errorf("missing permission"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs each request and records its route metrics.
func requestLogger(logger *slog.Logger, metrics RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			if metrics != nil {
				metrics.RecordRequest(r.Method, route, status, elapsed)
			}
			logger.DebugContext(r.Context(), "http request",
				"method", r.Method,
				"route", route,
				"status", status,
				"duration", elapsed,
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
