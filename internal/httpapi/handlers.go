// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/permission"
	"github.com/holomush/authcore/internal/token"
	"github.com/holomush/authcore/internal/verification"
)

type accountView struct {
	ID          string               `json:"id"`
	Username    string               `json:"username"`
	Email       *string              `json:"email,omitempty"`
	Phone       *string              `json:"phone,omitempty"`
	Type        identity.AccountType `json:"type"`
	Status      identity.Status      `json:"status"`
	Nickname    string               `json:"nickname,omitempty"`
	AvatarURL   string               `json:"avatar_url,omitempty"`
	LastLoginAt *time.Time           `json:"last_login_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

func newAccountView(a *identity.Account) accountView {
	return accountView{
		ID:          a.ID.String(),
		Username:    a.Username,
		Email:       a.Email,
		Phone:       a.Phone,
		Type:        a.Type,
		Status:      a.Status,
		Nickname:    a.Nickname,
		AvatarURL:   a.AvatarURL,
		LastLoginAt: a.LastLoginAt,
		CreatedAt:   a.CreatedAt,
	}
}

type sessionView struct {
	Account accountView `json:"account"`
	Tokens  token.Pair  `json:"tokens"`
}

func newSessionView(s *auth.Session) sessionView {
	return sessionView{Account: newAccountView(s.Account), Tokens: s.Tokens}
}

type profileView struct {
	Account     accountView            `json:"account"`
	Roles       []string               `json:"roles"`
	Permissions []string               `json:"permissions"`
	Menus       []*permission.MenuNode `json:"menus"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	sess, err := a.auth.LoginWithPassword(r.Context(), req.Login, req.Password)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

type sendCodeRequest struct {
	Channel     verification.Channel `json:"channel"`
	Destination string               `json:"destination"`
}

func (a *api) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if err := a.auth.SendCode(r.Context(), req.Channel, req.Destination); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type codeLoginRequest struct {
	Channel     verification.Channel `json:"channel"`
	Destination string               `json:"destination"`
	Code        string               `json:"code"`
}

func (a *api) handleLoginWithCode(w http.ResponseWriter, r *http.Request) {
	var req codeLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	sess, err := a.auth.LoginWithCode(r.Context(), req.Channel, req.Destination, req.Code)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

type registerRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	sess, err := a.auth.Register(r.Context(), auth.RegisterRequest{
		Email:    req.Email,
		Code:     req.Code,
		Password: req.Password,
		Nickname: req.Nickname,
	})
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionView(sess))
}

func (a *api) handleStartOAuth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accountType := identity.AccountType(q.Get("account_type"))
	target, err := a.auth.StartOAuth(r.Context(), chi.URLParam(r, "provider"), q.Get("redirect_uri"), accountType)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *api) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, r, a.logger, oops.Code("PROVIDER_DENIED").
			With("provider", chi.URLParam(r, "provider")).
			Errorf("provider denied authorization: %s", reason))
		return
	}
	target, err := a.auth.CompleteOAuth(r.Context(), chi.URLParam(r, "provider"), q.Get("state"), q.Get("code"))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

type exchangeRequest struct {
	Code string `json:"code"`
}

func (a *api) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	pair, err := a.auth.ExchangeLogin(r.Context(), req.Code)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	if err := a.auth.Logout(r.Context(), claims.AccountID()); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	p, err := a.auth.WhoAmI(r.Context(), claims.AccountID())
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profileView{
		Account:     newAccountView(p.Account),
		Roles:       nonNil(p.Roles),
		Permissions: nonNil(p.Permissions),
		Menus:       p.Menus,
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type forgotRequest struct {
	Email string `json:"email"`
}

func (a *api) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if err := a.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (a *api) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if err := a.auth.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleNicknameAvailable(w http.ResponseWriter, r *http.Request) {
	ok, err := a.auth.NicknameAvailable(r.Context(), r.URL.Query().Get("nickname"))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": ok})
}

func int64Param(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, oops.Code("HTTP_BAD_REQUEST").With("param", name).Errorf("%s must be a positive integer", name)
	}
	return v, nil
}

type parentRequest struct {
	ParentID int64 `json:"parent_id"`
}

func (a *api) handleSetMenuParent(w http.ResponseWriter, r *http.Request) {
	menuID, err := int64Param(r, "menuID")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	var req parentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if err := a.grants.SetParent(r.Context(), menuID, req.ParentID); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := int64Param(r, "roleID")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if err := a.grants.AssignRole(r.Context(), chi.URLParam(r, "accountID"), roleID); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleUnassignRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := int64Param(r, "roleID")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if err := a.grants.UnassignRole(r.Context(), chi.URLParam(r, "accountID"), roleID); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type roleMenusRequest struct {
	MenuIDs []int64 `json:"menu_ids"`
}

func (a *api) handleReplaceRoleMenus(w http.ResponseWriter, r *http.Request) {
	roleID, err := int64Param(r, "roleID")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	var req roleMenusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if err := a.grants.ReplaceRoleMenus(r.Context(), roleID, nonNil(req.MenuIDs)); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
