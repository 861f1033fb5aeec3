package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestScopedReadOnlyBindsScopeAndCommits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(setScopeQuery)).
		WithArgs("school-1", "user-1", "TEACHER").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	called := false
	err := ScopedReadOnly(context.Background(), db, Scope{SchoolID: "school-1", UserID: "user-1", Role: "TEACHER"}, func(tx *sqlx.Tx) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScopedReadOnlyRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(setScopeQuery)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := ScopedReadOnly(context.Background(), db, Scope{SchoolID: "s", UserID: "u", Role: "ADMIN"}, func(tx *sqlx.Tx) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScopedReadOnlyRejectsEmptyScope(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	err := ScopedReadOnly(context.Background(), db, Scope{UserID: "u", Role: "ADMIN"}, func(tx *sqlx.Tx) error {
		t.Fatal("unit of work must not run without a school")
		return nil
	})

	assert.ErrorIs(t, err, ErrEmptyScope)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScopedReadOnlySwitchesRoleBeforeBindingScope(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(setRoleQuery)).
		WithArgs("assistant_reader").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(setScopeQuery)).
		WithArgs("school-1", "user-1", "STUDENT").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ScopedReadOnly(context.Background(), db, Scope{SchoolID: "school-1", UserID: "user-1", Role: "STUDENT", DBRole: "assistant_reader"}, func(tx *sqlx.Tx) error {
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScopedReadOnlyRoleSwitchFailureRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(setRoleQuery)).
		WithArgs("assistant_reader").
		WillReturnError(errors.New(`permission denied to set role "assistant_reader"`))
	mock.ExpectRollback()

	err := ScopedReadOnly(context.Background(), db, Scope{SchoolID: "s", UserID: "u", Role: "ADMIN", DBRole: "assistant_reader"}, func(tx *sqlx.Tx) error {
		t.Fatal("unit of work must not run without the scoped role")
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "switch scoped role")
	assert.NoError(t, mock.ExpectationsWereMet())
}
