// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/cache"
	"github.com/holomush/authcore/internal/events"
	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/verification"
	"github.com/holomush/authcore/pkg/errutil"
)

// dummyPasswordHash is verified against when no account matches, so an
// unknown login costs the same as a wrong password.
//
//nolint:gosec // G101: not a credential, never matches any password
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

var errInvalidCredentials = oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid login or password")

// lookupLogin finds an account by email, phone or username depending on the
// shape of login.
func (s *Service) lookupLogin(ctx context.Context, login string) (*identity.Account, error) {
	switch {
	case strings.Contains(login, "@"):
		return s.accounts.GetByEmail(ctx, strings.ToLower(login))
	case isPhone(login):
		return s.accounts.GetByPhone(ctx, verification.NormalizeDestination(verification.ChannelSMS, login))
	default:
		return s.accounts.GetByUsername(ctx, login)
	}
}

func isPhone(login string) bool {
	digits := 0
	for i, r := range login {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0, r == ' ', r == '-':
		default:
			return false
		}
	}
	return digits > 0
}

// LoginWithPassword signs in with a username, email or phone and a
// password. Unknown logins and wrong passwords fail identically. Repeated
// failures slow the next attempt down and eventually lock the account.
func (s *Service) LoginWithPassword(ctx context.Context, login, password string) (*Session, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		s.metrics.RecordLogin(MethodPassword, OutcomeFailure)
		return nil, errInvalidCredentials
	}

	account, err := s.lookupLogin(ctx, login)
	exists := err == nil
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		s.metrics.RecordLogin(MethodPassword, OutcomeError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "lookup account").Wrap(err)
	}

	now := s.now()
	target := dummyPasswordHash
	if exists {
		target = account.PasswordHash
		state := identity.CheckFailures(account.FailedAttempts, account.LockedUntil, now)
		if err := s.sleep(ctx, state.Delay); err != nil {
			return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "failure delay").Wrap(err)
		}
	}

	valid, verifyErr := s.hasher.Verify(password, target)
	if verifyErr != nil && exists {
		s.metrics.RecordLogin(MethodPassword, OutcomeError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(verifyErr)
	}

	if !exists {
		s.metrics.RecordLogin(MethodPassword, OutcomeFailure)
		return nil, errInvalidCredentials
	}

	// Lockout is checked after verification to keep timing uniform.
	if account.IsLocked(now) {
		s.metrics.RecordLogin(MethodPassword, OutcomeLocked)
		return nil, oops.Code("AUTH_ACCOUNT_LOCKED").
			With("locked_until", *account.LockedUntil).
			Errorf("account is temporarily locked")
	}

	if !valid {
		account.RecordFailure(now)
		if err := s.accounts.UpdateLoginState(ctx, account); err != nil {
			errutil.LogErrorContext(ctx, s.logger, "failed to record login failure", err)
		}
		s.metrics.RecordLogin(MethodPassword, OutcomeFailure)
		if account.IsLocked(now) {
			s.logger.WarnContext(ctx, "account locked after repeated failures",
				"account_id", account.ID.String(), "failures", account.FailedAttempts)
		}
		return nil, errInvalidCredentials
	}

	if account.Disabled() {
		s.metrics.RecordLogin(MethodPassword, OutcomeFailure)
		return nil, oops.Code("IDENTITY_CONFLICT").
			With("account_id", account.ID.String()).
			Wrap(identity.ErrIdentityConflict)
	}

	account.RecordSuccess(now)
	if err := s.accounts.UpdateLoginState(ctx, account); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to record login success", err)
	}

	session, err := s.signIn(ctx, account)
	if err != nil {
		s.metrics.RecordLogin(MethodPassword, OutcomeError)
		return nil, err
	}
	s.metrics.RecordLogin(MethodPassword, OutcomeSuccess)
	s.publish(ctx, events.LoginSucceeded, account, MethodPassword, "")
	return session, nil
}

// RequestPasswordReset sends a reset token to the account owning email.
// An unknown email succeeds silently so callers cannot probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = verification.NormalizeDestination(verification.ChannelEmail, email)
	if email == "" {
		return oops.Code("AUTH_INVALID_REQUEST").Errorf("email is required")
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		s.logger.DebugContext(ctx, "password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").With("operation", "lookup account").Wrap(err)
	}

	plain, digest, err := newSecret()
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, cache.PasswordResetKey(digest), account.ID.String(), s.cfg.PasswordResetTTL); err != nil {
		return oops.Code("CACHE_UNAVAILABLE").With("operation", "store reset token").Wrap(err)
	}

	if err := s.notifier.Notify(ctx, Notification{
		Kind:        NotifyPasswordReset,
		Channel:     verification.ChannelEmail,
		Destination: email,
		Secret:      plain,
	}); err != nil {
		return oops.Code("AUTH_NOTIFY_FAILED").With("kind", string(NotifyPasswordReset)).Wrap(err)
	}
	return nil
}

// ResetPassword consumes a reset token, replaces the password, clears any
// lockout and revokes every session of the account.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	resetToken = strings.TrimSpace(resetToken)
	if resetToken == "" {
		return oops.Code("AUTH_RESET_INVALID").Errorf("reset token is required")
	}

	accountID, err := s.store.GetDel(ctx, cache.PasswordResetKey(digestOf(resetToken)))
	if errors.Is(err, cache.ErrMiss) {
		return oops.Code("AUTH_RESET_INVALID").Errorf("reset token is invalid or expired")
	}
	if err != nil {
		return oops.Code("CACHE_UNAVAILABLE").With("operation", "consume reset token").Wrap(err)
	}

	account, err := s.accountByID(ctx, accountID)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").With("operation", "hash password").Wrap(err)
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		return oops.Code("AUTH_RESET_FAILED").
			With("operation", "update password").
			With("account_id", accountID).
			Wrap(err)
	}

	if account.FailedAttempts > 0 || account.LockedUntil != nil {
		account.FailedAttempts = 0
		account.LockedUntil = nil
		account.UpdatedAt = s.now()
		if err := s.accounts.UpdateLoginState(ctx, account); err != nil {
			errutil.LogErrorContext(ctx, s.logger, "failed to clear lockout after reset", err)
		}
	}

	if err := s.tokens.Revoke(ctx, accountID); err != nil {
		return oops.With("operation", "revoke sessions after reset").With("account_id", accountID).Wrap(err)
	}
	s.logger.InfoContext(ctx, "password reset", "account_id", accountID)
	return nil
}

// Register creates a password account for an email address proven by a
// verification code.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	email := verification.NormalizeDestination(verification.ChannelEmail, req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, oops.Code("AUTH_INVALID_REQUEST").Errorf("a valid email is required")
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}
	if req.Nickname != "" {
		if err := identity.ValidateNickname(req.Nickname); err != nil {
			return nil, err
		}
	}

	_, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, oops.Code("AUTH_ACCOUNT_EXISTS").With("email", email).Errorf("email is already registered")
	case !errors.Is(err, identity.ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "lookup account").Wrap(err)
	}

	if err := s.requireCode(ctx, verification.ChannelEmail, email, req.Code); err != nil {
		s.metrics.RecordLogin(MethodRegister, OutcomeFailure)
		return nil, err
	}

	account, err := s.resolver.ResolveOrCreate(ctx, identity.Claims{
		Provider:    identity.ProviderEmail,
		OpenID:      email,
		Email:       email,
		Nickname:    req.Nickname,
		AccountType: identity.AccountTypeMember,
	})
	if err != nil {
		s.metrics.RecordLogin(MethodRegister, OutcomeError)
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "set password").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	account.PasswordHash = hash

	session, err := s.signIn(ctx, account)
	if err != nil {
		s.metrics.RecordLogin(MethodRegister, OutcomeError)
		return nil, err
	}
	s.metrics.RecordLogin(MethodRegister, OutcomeSuccess)
	return session, nil
}

// RegisterRequest is the input of Register.
type RegisterRequest struct {
	Email    string
	Code     string
	Password string
	Nickname string
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("min_length", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, kind events.Kind, account *identity.Account, method, providerName string) {
	if s.events == nil {
		return
	}
	e := events.New(kind, account.ID.String())
	e.Method = method
	e.Provider = providerName
	s.events.Publish(ctx, e)
}
