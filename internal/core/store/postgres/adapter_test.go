package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/changepulse/changepulse/internal/core/store"
	"github.com/stretchr/testify/require"
)

func TestAdapter_UpsertSubject(t *testing.T) {
	tests := []struct {
		name        string
		secondaryID *string
	}{
		{"with secondary id", strPtr("secondary-1")},
		{"without secondary id", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			mock.ExpectQuery(regexp.QuoteMeta(queryUpsertSubject)).
				WithArgs("primary-1", tc.secondaryID).
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

			id, err := adapter.UpsertSubject(context.Background(), "primary-1", tc.secondaryID)
			require.NoError(t, err)
			require.Equal(t, int64(7), id)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdapter_RecordChange(t *testing.T) {
	t.Run("success returns generated id", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryInsertChange)).
			WithArgs(int64(7), int64(12345678), []byte(`{"op_type":"I"}`), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

		id, err := adapter.RecordChange(context.Background(), 7, 12345678, []byte(`{"op_type":"I"}`), 5*time.Minute)
		require.NoError(t, err)
		require.Equal(t, int64(42), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate source event maps to ErrDuplicateChange", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryInsertChange)).
			WithArgs(int64(7), int64(12345678), []byte(`{}`), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := adapter.RecordChange(context.Background(), 7, 12345678, []byte(`{}`), 5*time.Minute)
		require.ErrorIs(t, err, store.ErrDuplicateChange)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_ExtendDueTime(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(queryExtendDueTime)).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, adapter.ExtendDueTime(context.Background(), 7, 5*time.Minute))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_ClaimAndSettle(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	t.Run("settles claimed burst and returns payloads after commit", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(queryClaimDueSubjects)).
			WithArgs(now, 100).
			WillReturnRows(sqlmock.NewRows([]string{"id", "primary_id", "secondary_id", "latest_record_id"}).
				AddRow(int64(7), "primary-1", "secondary-1", int64(42)))
		mock.ExpectExec(regexp.QuoteMeta(queryMarkSent)).
			WithArgs(int64(7), int64(42), now).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(regexp.QuoteMeta(queryPersistOutgoing)).
			WithArgs(int64(42), []byte(`{"primary_id":"primary-1"}`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		settled, err := adapter.ClaimAndSettle(context.Background(), now, 100, func(due store.DueSubject) ([]byte, error) {
			require.Equal(t, int64(7), due.SubjectID)
			require.Equal(t, "primary-1", due.PrimaryID)
			require.Equal(t, "secondary-1", due.SecondaryID)
			require.Equal(t, int64(42), due.LatestRecordID)
			return []byte(`{"primary_id":"primary-1"}`), nil
		})
		require.NoError(t, err)
		require.Len(t, settled, 1)
		require.Equal(t, int64(42), settled[0].RecordID)
		require.Equal(t, "primary-1", settled[0].PrimaryID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero affected rows skips subject without publishing", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(queryClaimDueSubjects)).
			WithArgs(now, 100).
			WillReturnRows(sqlmock.NewRows([]string{"id", "primary_id", "secondary_id", "latest_record_id"}).
				AddRow(int64(7), "primary-1", "", int64(42)))
		mock.ExpectExec(regexp.QuoteMeta(queryMarkSent)).
			WithArgs(int64(7), int64(42), now).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		settled, err := adapter.ClaimAndSettle(context.Background(), now, 100, func(store.DueSubject) ([]byte, error) {
			return []byte(`{}`), nil
		})
		require.NoError(t, err)
		require.Empty(t, settled)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty claim commits and returns nothing", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(queryClaimDueSubjects)).
			WithArgs(now, 100).
			WillReturnRows(sqlmock.NewRows([]string{"id", "primary_id", "secondary_id", "latest_record_id"}))
		mock.ExpectCommit()

		settled, err := adapter.ClaimAndSettle(context.Background(), now, 100, func(store.DueSubject) ([]byte, error) {
			t.Fatal("build must not be called for empty claims")
			return nil, nil
		})
		require.NoError(t, err)
		require.Empty(t, settled)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("build failure leaves burst unsent", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(queryClaimDueSubjects)).
			WithArgs(now, 100).
			WillReturnRows(sqlmock.NewRows([]string{"id", "primary_id", "secondary_id", "latest_record_id"}).
				AddRow(int64(7), "primary-1", "", int64(42)))
		mock.ExpectCommit()

		settled, err := adapter.ClaimAndSettle(context.Background(), now, 100, func(store.DueSubject) ([]byte, error) {
			return nil, context.DeadlineExceeded
		})
		require.NoError(t, err)
		require.Empty(t, settled)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_UnackedOutgoing(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	olderThan := time.Date(2026, 8, 28, 11, 55, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryUnackedOutgoing)).
		WithArgs(olderThan, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "primary_id", "outgoing_payload"}).
			AddRow(int64(42), "primary-1", []byte(`{"change_record_id":42}`))).
		RowsWillBeClosed()

	pending, err := adapter.UnackedOutgoing(context.Background(), olderThan, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, int64(42), pending[0].RecordID)
	require.Equal(t, "primary-1", pending[0].PrimaryID)
	require.JSONEq(t, `{"change_record_id":42}`, string(pending[0].Outgoing))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_MarkDelivered(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(queryMarkDelivered)).
		WithArgs(int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, adapter.MarkDelivered(context.Background(), 42))
	require.NoError(t, mock.ExpectationsWereMet())
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &Adapter{
		db:                db,
		stmtUpsertSubject: mustPrepareStmt(t, db, mock, queryUpsertSubject),
		stmtInsertChange:  mustPrepareStmt(t, db, mock, queryInsertChange),
		stmtExtendDueTime: mustPrepareStmt(t, db, mock, queryExtendDueTime),
		stmtUnackedOut:    mustPrepareStmt(t, db, mock, queryUnackedOutgoing),
		stmtMarkDelivered: mustPrepareStmt(t, db, mock, queryMarkDelivered),
	}

	return adapter, mock, db
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()

	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)

	return stmt
}

func strPtr(s string) *string {
	return &s
}
