package persist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS projects").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLiteStoreFromDB(db)
	require.NoError(t, err)
	return s, mock
}

func TestAppendEventsRollsBackOnWriteFailure(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	diskFull := errors.New("database or disk is full")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").WillReturnError(diskFull)
	mock.ExpectRollback()

	err := s.AppendEvents(context.Background(), "p-1", 0, testEvents(t, 2), now)
	require.Error(t, err)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "append", perr.Op)
	assert.ErrorIs(t, err, diskFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventsCommitsWholeBatch(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("UPDATE projects SET updated_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.AppendEvents(context.Background(), "p-1", 0, testEvents(t, 2), now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadEventsWrapsQueryFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT payload FROM events").
		WillReturnError(errors.New("connection lost"))

	_, err := s.ReadEvents(context.Background(), "p-1")
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "read", perr.Op)
}
