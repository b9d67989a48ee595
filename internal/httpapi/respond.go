// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/holomush/authcore/pkg/errutil"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

var errNotFound = oops.Code("HTTP_NOT_FOUND").Errorf("no such route")

var statusByCode = map[string]int{
	"AUTH_UNAUTHENTICATED":     http.StatusUnauthorized,
	"AUTH_INVALID_CREDENTIALS": http.StatusUnauthorized,
	"TOKEN_INVALID":            http.StatusUnauthorized,
	"TOKEN_EXPIRED":            http.StatusUnauthorized,
	"TOKEN_MALFORMED":          http.StatusUnauthorized,

	"IDENTITY_CONFLICT": http.StatusForbidden,
	"PERMISSION_DENIED": http.StatusForbidden,

	"HTTP_BAD_REQUEST":                 http.StatusBadRequest,
	"AUTH_INVALID_REQUEST":             http.StatusBadRequest,
	"AUTH_WEAK_PASSWORD":               http.StatusBadRequest,
	"AUTH_RESET_INVALID":               http.StatusBadRequest,
	"AUTH_STATE_INVALID":               http.StatusBadRequest,
	"AUTH_EXCHANGE_INVALID":            http.StatusBadRequest,
	"AUTH_REDIRECT_NOT_ALLOWED":        http.StatusBadRequest,
	"VERIFICATION_FAILED":              http.StatusBadRequest,
	"VERIFICATION_CHANNEL_INVALID":     http.StatusBadRequest,
	"VERIFICATION_DESTINATION_INVALID": http.StatusBadRequest,
	"IDENTITY_INVALID_NICKNAME":        http.StatusBadRequest,
	"IDENTITY_INVALID_CLAIMS":          http.StatusBadRequest,
	"PROVIDER_DENIED":                  http.StatusBadRequest,

	"HTTP_NOT_FOUND":       http.StatusNotFound,
	"ACCOUNT_NOT_FOUND":    http.StatusNotFound,
	"PROVIDER_UNKNOWN":     http.StatusNotFound,
	"PERMISSION_NOT_FOUND": http.StatusNotFound,

	"AUTH_ACCOUNT_EXISTS": http.StatusConflict,
	"MENU_CYCLE":          http.StatusConflict,

	"AUTH_ACCOUNT_LOCKED": http.StatusLocked,

	"PROVIDER_TOKEN_INVALID":   http.StatusBadGateway,
	"PROVIDER_EXCHANGE_FAILED": http.StatusBadGateway,

	"CACHE_UNAVAILABLE": http.StatusServiceUnavailable,
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	if status, ok := statusByCode[errutil.Code(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError renders err. Unmapped errors are logged and reported as an
// opaque INTERNAL error.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := StatusFor(err)
	detail := errorDetail{Code: errutil.Code(err), Message: err.Error()}
	if status == http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), logger, "request failed", err)
		detail = errorDetail{Code: "INTERNAL", Message: "internal error"}
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return oops.Code("HTTP_BAD_REQUEST").Wrapf(err, "decode request body")
	}
	if dec.More() {
		return oops.Code("HTTP_BAD_REQUEST").Errorf("request body must contain a single JSON object")
	}
	return nil
}
