package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Store defines the analytical event store operations the pipeline needs
type Store interface {
	// InsertBatch stores all events in a single transaction. On error no
	// event from the batch is stored.
	InsertBatch(ctx context.Context, batch []*Event) error
	// DeleteByImport removes every event tagged with the given import on the
	// given site and returns the number of rows removed.
	DeleteByImport(ctx context.Context, siteID, importID uuid.UUID) (int64, error)
	// CountByImport returns the number of stored events for one import.
	CountByImport(ctx context.Context, siteID, importID uuid.UUID) (int64, error)
}

// PostgresStore implements Store against PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// insertChunkSize keeps each multi-row INSERT under the Postgres placeholder
// limit (10 columns per row, 65535 placeholders max)
const insertChunkSize = 1000

// InsertBatch stores all events in one transaction, chunked into multi-row
// INSERT statements. Any failure rolls the whole batch back.
func (s *PostgresStore) InsertBatch(ctx context.Context, batch []*Event) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "insert", Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	for start := 0; start < len(batch); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(batch) {
			end = len(batch)
		}
		if err := insertChunk(ctx, tx, batch[start:end]); err != nil {
			return &StorageError{Op: "insert", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "insert", Err: fmt.Errorf("failed to commit: %w", err)}
	}
	return nil
}

// insertChunk issues one multi-row INSERT for up to insertChunkSize events
func insertChunk(ctx context.Context, tx *sql.Tx, chunk []*Event) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO events (id, site_id, import_id, name, timestamp, visitor_id, pathname, referrer, country, props) VALUES `)

	args := make([]interface{}, 0, len(chunk)*10)
	for i, ev := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 10
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)

		id := ev.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		propsJSON, err := json.Marshal(ev.Props)
		if err != nil {
			return fmt.Errorf("failed to marshal props: %w", err)
		}

		args = append(args,
			id, ev.SiteID, ev.ImportID, ev.Name, ev.Timestamp.UTC(),
			nullString(ev.VisitorID), nullString(ev.Pathname),
			nullString(ev.Referrer), nullString(ev.Country), propsJSON,
		)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

// DeleteByImport removes all events belonging to one import on one site
func (s *PostgresStore) DeleteByImport(ctx context.Context, siteID, importID uuid.UUID) (int64, error) {
	query := `DELETE FROM events WHERE site_id = $1 AND import_id = $2`
	result, err := s.db.ExecContext(ctx, query, siteID, importID)
	if err != nil {
		return 0, &StorageError{Op: "delete", Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "delete", Err: fmt.Errorf("failed to get rows affected: %w", err)}
	}
	return rowsAffected, nil
}

// CountByImport returns the number of stored events for one import
func (s *PostgresStore) CountByImport(ctx context.Context, siteID, importID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM events WHERE site_id = $1 AND import_id = $2`
	var count int64
	if err := s.db.QueryRowContext(ctx, query, siteID, importID).Scan(&count); err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return count, nil
}

// nullString converts empty strings to NULL
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
