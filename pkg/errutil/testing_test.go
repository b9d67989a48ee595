// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/authcore/pkg/errutil"
)

// probeT records assertion failures without failing the real test.
type probeT struct {
	testing.TB
	failed bool
}

func (p *probeT) Helper()               {}
func (p *probeT) Name() string          { return "probe" }
func (p *probeT) Errorf(string, ...any) { p.failed = true }

func TestAssertErrorCode(t *testing.T) {
	err := oops.Code("VERIFICATION_FAILED").Errorf("code mismatch")
	assert.True(t, errutil.AssertErrorCode(t, err, "VERIFICATION_FAILED"))

	wrapped := oops.With("channel", "sms").Wrap(err)
	errutil.RequireErrorCode(t, wrapped, "VERIFICATION_FAILED")
}

func TestAssertErrorCode_Mismatch(t *testing.T) {
	probe := &probeT{}
	assert.False(t, errutil.AssertErrorCode(probe, errors.New("plain"), "TOKEN_INVALID"))
	assert.False(t, errutil.AssertErrorCode(probe, nil, "TOKEN_INVALID"))
	assert.True(t, probe.failed)
}

func TestAssertErrorContext(t *testing.T) {
	err := oops.With("channel", "sms").Errorf("code mismatch")
	assert.True(t, errutil.AssertErrorContext(t, err, "channel", "sms"))

	probe := &probeT{}
	assert.False(t, errutil.AssertErrorContext(probe, err, "destination", "+15551230000"))
	assert.False(t, errutil.AssertErrorContext(probe, errors.New("plain"), "channel", "sms"))
}
