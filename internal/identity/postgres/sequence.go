// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/identity"
)

// HandleSequence issues account handles from account_handle_seq.
type HandleSequence struct {
	pool poolIface
}

// NewHandleSequence creates a HandleSequence.
func NewHandleSequence(pool poolIface) *HandleSequence {
	return &HandleSequence{pool: pool}
}

// Next returns the next handle.
func (s *HandleSequence) Next(ctx context.Context) (int64, error) {
	var handle int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('account_handle_seq')`).Scan(&handle); err != nil {
		return 0, oops.Code("IDENTITY_HANDLE_FAILED").With("sequence", "account_handle_seq").Wrap(err)
	}
	return handle, nil
}

var _ identity.HandleSequence = (*HandleSequence)(nil)
