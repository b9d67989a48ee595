// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/verification"
	"github.com/holomush/authcore/pkg/errutil"
)

// SendCode issues a one-time code for destination and hands it to the
// notifier. The code itself is never returned.
func (s *Service) SendCode(ctx context.Context, channel verification.Channel, destination string) error {
	destination = verification.NormalizeDestination(channel, destination)
	code, err := s.codes.Issue(ctx, channel, destination)
	if err != nil {
		return err
	}

	if err := s.notifier.Notify(ctx, Notification{
		Kind:        NotifyVerificationCode,
		Channel:     channel,
		Destination: destination,
		Secret:      code,
	}); err != nil {
		// An undeliverable code must not stay redeemable.
		if clearErr := s.codes.Clear(ctx, channel, destination); clearErr != nil {
			errutil.LogErrorContext(ctx, s.logger, "failed to clear undelivered code", clearErr)
		}
		return oops.Code("AUTH_NOTIFY_FAILED").
			With("kind", string(NotifyVerificationCode)).
			With("channel", string(channel)).
			Wrap(err)
	}
	return nil
}

// LoginWithCode signs in with a phone number or email proven by a one-time
// code. The first successful login for a destination creates the account.
func (s *Service) LoginWithCode(ctx context.Context, channel verification.Channel, destination, code string) (*Session, error) {
	destination = verification.NormalizeDestination(channel, destination)
	if err := s.requireCode(ctx, channel, destination, code); err != nil {
		s.metrics.RecordLogin(MethodCode, OutcomeFailure)
		return nil, err
	}

	claims := identity.Claims{OpenID: destination, AccountType: identity.AccountTypeMember}
	if channel == verification.ChannelEmail {
		claims.Provider = identity.ProviderEmail
		claims.Email = destination
	} else {
		claims.Provider = identity.ProviderPhone
		claims.Phone = destination
	}

	account, err := s.resolver.ResolveOrCreate(ctx, claims)
	if err != nil {
		s.metrics.RecordLogin(MethodCode, OutcomeError)
		return nil, err
	}
	session, err := s.signIn(ctx, account)
	if err != nil {
		s.metrics.RecordLogin(MethodCode, OutcomeError)
		return nil, err
	}
	s.metrics.RecordLogin(MethodCode, OutcomeSuccess)
	return session, nil
}

// requireCode checks a code and records the verification outcome.
func (s *Service) requireCode(ctx context.Context, channel verification.Channel, destination, code string) error {
	err := s.codes.Require(ctx, channel, destination, code)
	switch {
	case err == nil:
		s.metrics.RecordVerification(string(channel), OutcomeSuccess)
	case errutil.Code(err) == "VERIFICATION_FAILED":
		s.metrics.RecordVerification(string(channel), OutcomeMismatch)
	default:
		s.metrics.RecordVerification(string(channel), OutcomeError)
	}
	return err
}
