// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/identity"
	"github.com/holomush/authcore/pkg/errutil"
)

var accountCols = []string{
	"id", "handle", "username", "email", "phone", "password_hash", "account_type", "status",
	"nickname", "avatar_url", "failed_attempts", "locked_until", "last_login_at", "created_at", "updated_at",
}

func strPtr(s string) *string { return &s }

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func accountRow(id ulid.ULID, created time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(accountCols).AddRow(
		id.String(), int64(10000001), "u10000001", strPtr("a@example.com"), (*string)(nil),
		"$argon2id$hash", "member", "active", "neo", "https://img/neo.png",
		2, (*time.Time)(nil), &created, created, created,
	)
}

func sampleAccount() *identity.Account {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	return &identity.Account{
		ID:        ulid.Make(),
		Handle:    10000001,
		Username:  "u10000001",
		Email:     strPtr("a@example.com"),
		Type:      identity.AccountTypeMember,
		Status:    identity.StatusActive,
		Nickname:  "neo",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func sampleBinding(accountID ulid.ULID) *identity.Binding {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	return &identity.Binding{
		ID:        ulid.Make(),
		AccountID: accountID,
		Provider:  "github",
		OpenID:    "gh-1",
		RawClaims: []byte(`{"login":"neo"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestAccountRepository_GetByID(t *testing.T) {
	id := ulid.Make()
	created := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
			WithArgs(id.String()).
			WillReturnRows(accountRow(id, created))

		got, err := NewAccountRepository(mock).GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, int64(10000001), got.Handle)
		assert.Equal(t, "a@example.com", got.EmailValue())
		assert.Nil(t, got.Phone)
		assert.Equal(t, identity.AccountTypeMember, got.Type)
		assert.Equal(t, identity.StatusActive, got.Status)
		assert.Equal(t, 2, got.FailedAttempts)
		require.NotNil(t, got.LastLoginAt)
		assert.Equal(t, created, *got.LastLoginAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(accountCols))

		_, err := NewAccountRepository(mock).GetByID(context.Background(), id)
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrNotFound)
		errutil.AssertErrorCode(t, err, "ACCOUNT_NOT_FOUND")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
			WithArgs(id.String()).
			WillReturnError(errors.New("connection refused"))

		_, err := NewAccountRepository(mock).GetByID(context.Background(), id)
		require.Error(t, err)
		assert.NotErrorIs(t, err, identity.ErrNotFound)
		errutil.AssertErrorCode(t, err, "ACCOUNT_GET_FAILED")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_Lookups(t *testing.T) {
	id := ulid.Make()
	created := time.Now().UTC()
	tests := []struct {
		name    string
		pattern string
		arg     string
		call    func(r *AccountRepository, v string) (*identity.Account, error)
	}{
		{"username", `WHERE LOWER\(username\) = LOWER\(\$1\)`, "U10000001",
			func(r *AccountRepository, v string) (*identity.Account, error) {
				return r.GetByUsername(context.Background(), v)
			}},
		{"email", `WHERE LOWER\(email\) = LOWER\(\$1\)`, "A@example.com",
			func(r *AccountRepository, v string) (*identity.Account, error) {
				return r.GetByEmail(context.Background(), v)
			}},
		{"phone", `WHERE phone = \$1`, "+15550100",
			func(r *AccountRepository, v string) (*identity.Account, error) {
				return r.GetByPhone(context.Background(), v)
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectQuery(tt.pattern).WithArgs(tt.arg).WillReturnRows(accountRow(id, created))

			got, err := tt.call(NewAccountRepository(mock), tt.arg)
			require.NoError(t, err)
			assert.Equal(t, id, got.ID)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAccountRepository_NicknameTaken(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("neo").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	taken, err := NewAccountRepository(mock).NicknameTaken(context.Background(), "neo")
	require.NoError(t, err)
	assert.True(t, taken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_Create(t *testing.T) {
	t.Run("inserts", func(t *testing.T) {
		mock := newMock(t)
		a := sampleAccount()
		a.PasswordHash = "$argon2id$x"
		mock.ExpectExec(`INSERT INTO accounts`).
			WithArgs(a.ID.String(), a.Handle, a.Username, a.Email, a.Phone, pgxmock.AnyArg(),
				"member", "active", "neo", "", 0, a.LockedUntil, a.LastLoginAt, a.CreatedAt, a.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewAccountRepository(mock).Create(context.Background(), a))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to duplicate", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO accounts`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "accounts_email_lower_idx"})

		err := NewAccountRepository(mock).Create(context.Background(), sampleAccount())
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrDuplicate)
		errutil.AssertErrorContext(t, err, "constraint", "accounts_email_lower_idx")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_CreateWithBinding(t *testing.T) {
	t.Run("commits both rows", func(t *testing.T) {
		mock := newMock(t)
		a := sampleAccount()
		b := sampleBinding(a.ID)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO accounts`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO provider_bindings`).
			WithArgs(b.ID.String(), a.ID.String(), "github", "gh-1", b.UnionID, []byte(`{"login":"neo"}`),
				b.CreatedAt, b.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, NewAccountRepository(mock).CreateWithBinding(context.Background(), a, b))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("binding conflict rolls back", func(t *testing.T) {
		mock := newMock(t)
		a := sampleAccount()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO accounts`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO provider_bindings`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "provider_bindings_provider_open_id_key"})
		mock.ExpectRollback()

		err := NewAccountRepository(mock).CreateWithBinding(context.Background(), a, sampleBinding(a.ID))
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrDuplicate)
		errutil.AssertErrorCode(t, err, "IDENTITY_DUPLICATE")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("account insert failure rolls back", func(t *testing.T) {
		mock := newMock(t)
		a := sampleAccount()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO accounts`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := NewAccountRepository(mock).CreateWithBinding(context.Background(), a, sampleBinding(a.ID))
		require.Error(t, err)
		assert.NotErrorIs(t, err, identity.ErrDuplicate)
		errutil.AssertErrorCode(t, err, "ACCOUNT_CREATE_FAILED")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("pool closed"))

		a := sampleAccount()
		err := NewAccountRepository(mock).CreateWithBinding(context.Background(), a, sampleBinding(a.ID))
		errutil.AssertErrorCode(t, err, "ACCOUNT_CREATE_FAILED")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_UpdateLoginState(t *testing.T) {
	a := sampleAccount()
	a.FailedAttempts = 3

	t.Run("updates", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE accounts SET failed_attempts = \$2`).
			WithArgs(a.ID.String(), 3, a.LockedUntil, a.LastLoginAt, a.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewAccountRepository(mock).UpdateLoginState(context.Background(), a))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE accounts SET failed_attempts`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewAccountRepository(mock).UpdateLoginState(context.Background(), a)
		assert.ErrorIs(t, err, identity.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_UpdatePassword(t *testing.T) {
	id := ulid.Make()
	mock := newMock(t)
	mock.ExpectExec(`UPDATE accounts SET password_hash = \$2`).
		WithArgs(id.String(), "$argon2id$new", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewAccountRepository(mock).UpdatePassword(context.Background(), id, "$argon2id$new"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSequence_Next(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT nextval\('account_handle_seq'\)`).
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(10000042)))

	handle, err := NewHandleSequence(mock).Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10000042), handle)

	mock.ExpectQuery(`SELECT nextval`).WillReturnError(errors.New("boom"))
	_, err = NewHandleSequence(mock).Next(context.Background())
	errutil.AssertErrorCode(t, err, "IDENTITY_HANDLE_FAILED")
	assert.NoError(t, mock.ExpectationsWereMet())
}
