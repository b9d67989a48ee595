// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/events"
	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/internal/verification"
	"github.com/holomush/authcore/pkg/errutil"
)

func TestLoginWithCode_SMSScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.SendCode(ctx, verification.ChannelSMS, "+1 555 0199"))
	note := f.notifier.last(t)
	assert.Equal(t, auth.NotifyVerificationCode, note.Kind)
	assert.Equal(t, "+15550199", note.Destination)
	assert.Equal(t, testCode, note.Secret)

	_, err := f.svc.LoginWithCode(ctx, verification.ChannelSMS, "+15550199", "000000")
	errutil.AssertErrorCode(t, err, "VERIFICATION_FAILED")
	assert.Equal(t, 1, f.metrics.count("verification:sms:mismatch"))

	session, err := f.svc.LoginWithCode(ctx, verification.ChannelSMS, "+15550199", testCode)
	require.NoError(t, err, "a mismatch leaves the code redeemable")
	assert.Equal(t, "+15550199", session.Account.PhoneValue())
	assert.Equal(t, identity.AccountTypeMember, session.Account.Type)
	assert.Equal(t, 1, f.db.AccountCount())
	assert.Equal(t, 1, f.metrics.count("verification:sms:success"))
	assert.Equal(t, 1, f.metrics.count("login:code:success"))
	assert.Len(t, f.events.methods(events.AccountCreated), 1)

	_, err = f.svc.LoginWithCode(ctx, verification.ChannelSMS, "+15550199", testCode)
	errutil.AssertErrorCode(t, err, "VERIFICATION_FAILED")

	require.NoError(t, f.svc.SendCode(ctx, verification.ChannelSMS, "+15550199"))
	again, err := f.svc.LoginWithCode(ctx, verification.ChannelSMS, "+15550199", testCode)
	require.NoError(t, err)
	assert.Equal(t, session.Account.ID, again.Account.ID)
	assert.Equal(t, 1, f.db.AccountCount())
}

func TestLoginWithCode_EmailLinksExistingAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seed(t, "alice", "correct horse")

	require.NoError(t, f.svc.SendCode(ctx, verification.ChannelEmail, "alice@example.com"))
	session, err := f.svc.LoginWithCode(ctx, verification.ChannelEmail, "Alice@Example.com", testCode)
	require.NoError(t, err)
	assert.Equal(t, a.ID, session.Account.ID)
	assert.Equal(t, 1, f.db.AccountCount())
}

func TestSendCode_UndeliverableCodeIsCleared(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.err = errors.New("smtp: connection refused")

	err := f.svc.SendCode(ctx, verification.ChannelEmail, "bob@example.com")
	errutil.AssertErrorCode(t, err, "AUTH_NOTIFY_FAILED")

	_, err = f.svc.LoginWithCode(ctx, verification.ChannelEmail, "bob@example.com", testCode)
	errutil.AssertErrorCode(t, err, "VERIFICATION_FAILED")
}

func TestSendCode_RejectsBadChannel(t *testing.T) {
	f := newFixture(t)
	err := f.svc.SendCode(context.Background(), verification.Channel("pigeon"), "coop")
	errutil.AssertErrorCode(t, err, "VERIFICATION_CHANNEL_INVALID")
	assert.Empty(t, f.notifier.sent)
}
