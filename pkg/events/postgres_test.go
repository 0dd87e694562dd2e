package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(siteID, importID uuid.UUID, name string) *Event {
	return &Event{
		SiteID:    siteID,
		ImportID:  importID,
		Name:      name,
		Timestamp: time.Date(2023, 5, 14, 12, 0, 0, 0, time.UTC),
		Pathname:  "/pricing",
	}
}

func TestInsertBatch_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	siteID := uuid.New()
	importID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO events \(id, site_id, import_id, name, timestamp, visitor_id, pathname, referrer, country, props\) VALUES`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	batch := []*Event{
		testEvent(siteID, importID, "pageview"),
		testEvent(siteID, importID, "signup"),
	}
	err = store.InsertBatch(context.Background(), batch)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	require.NoError(t, store.InsertBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_FailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	siteID := uuid.New()
	importID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO events`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.InsertBatch(context.Background(), []*Event{testEvent(siteID, importID, "pageview")})
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.Contains(t, err.Error(), "insert")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_Chunking(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	siteID := uuid.New()
	importID := uuid.New()

	batch := make([]*Event, insertChunkSize+5)
	for i := range batch {
		batch[i] = testEvent(siteID, importID, "pageview")
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO events`).
		WillReturnResult(sqlmock.NewResult(0, insertChunkSize))
	mock.ExpectExec(`INSERT INTO events`).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	require.NoError(t, store.InsertBatch(context.Background(), batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByImport(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	siteID := uuid.New()
	importID := uuid.New()

	mock.ExpectExec(`DELETE FROM events WHERE site_id = \$1 AND import_id = \$2`).
		WithArgs(siteID, importID).
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := store.DeleteByImport(context.Background(), siteID, importID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByImport_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectExec(`DELETE FROM events`).
		WillReturnError(errors.New("connection reset"))

	_, err = store.DeleteByImport(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByImport(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	siteID := uuid.New()
	importID := uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events WHERE site_id = \$1 AND import_id = \$2`).
		WithArgs(siteID, importID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.CountByImport(context.Background(), siteID, importID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	require.NoError(t, mock.ExpectationsWereMet())
}
