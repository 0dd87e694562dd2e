package imports

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultOpenImportLimit is the maximum open imports per organization
const DefaultOpenImportLimit = 1

// Service manages import job records and the per-organization admission gate
type Service interface {
	CheckLimit(ctx context.Context, orgID uuid.UUID) (*LimitCheck, error)
	CreateWithCheck(ctx context.Context, record *ImportRecord) error
	Get(ctx context.Context, importID uuid.UUID) (*ImportRecord, error)
	ListBySite(ctx context.Context, siteID uuid.UUID) ([]*ImportRecord, error)
	AddCounts(ctx context.Context, importID uuid.UUID, imported, skipped, invalid int64) error
	Complete(ctx context.Context, importID uuid.UUID) error
	Delete(ctx context.Context, importID uuid.UUID) error
}

// PostgresService implements Service on a relational store
type PostgresService struct {
	db    *sql.DB
	limit int
}

// NewPostgresService creates an import service with the given open-import
// limit; limit <= 0 falls back to DefaultOpenImportLimit
func NewPostgresService(db *sql.DB, limit int) *PostgresService {
	if limit <= 0 {
		limit = DefaultOpenImportLimit
	}
	return &PostgresService{db: db, limit: limit}
}

// CheckLimit counts the organization's open imports without locking. It may
// race with concurrent creation; CreateWithCheck re-validates under a lock.
func (s *PostgresService) CheckLimit(ctx context.Context, orgID uuid.UUID) (*LimitCheck, error) {
	query := `
		SELECT COUNT(*)
		FROM import_jobs
		WHERE org_id = $1 AND completed_at IS NULL
	`
	var open int
	if err := s.db.QueryRowContext(ctx, query, orgID).Scan(&open); err != nil {
		return nil, fmt.Errorf("failed to count open imports: %w", err)
	}

	if open >= s.limit {
		return &LimitCheck{
			Allowed: false,
			OrgID:   orgID,
			Reason:  fmt.Sprintf("organization already has %d active import(s), limit is %d", open, s.limit),
		}, nil
	}
	return &LimitCheck{Allowed: true, OrgID: orgID}, nil
}

// CreateWithCheck inserts the record only if the organization is still under
// its open-import limit. The count runs after a row-level lock on the
// organization, so N simultaneous attempts starting from zero open imports
// admit exactly one.
func (s *PostgresService) CreateWithCheck(ctx context.Context, record *ImportRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the organization row; concurrent creates for the same org queue
	// here while other orgs proceed
	query := `
		SELECT id
		FROM organizations
		WHERE id = $1
		FOR UPDATE
	`
	var lockedID uuid.UUID
	err = tx.QueryRowContext(ctx, query, record.OrgID).Scan(&lockedID)
	if err == sql.ErrNoRows {
		return &NotFoundError{Resource: "organization", ID: record.OrgID}
	}
	if err != nil {
		return fmt.Errorf("failed to lock organization: %w", err)
	}

	// Re-validate the open-import count under the lock
	query = `
		SELECT COUNT(*)
		FROM import_jobs
		WHERE org_id = $1 AND completed_at IS NULL
	`
	var open int
	if err := tx.QueryRowContext(ctx, query, record.OrgID).Scan(&open); err != nil {
		return fmt.Errorf("failed to count open imports: %w", err)
	}
	if open >= s.limit {
		return &ConflictError{
			Reason:       fmt.Sprintf("organization already has %d active import(s), limit is %d", open, s.limit),
			LimitReached: true,
		}
	}

	query = `
		INSERT INTO import_jobs (id, site_id, org_id, platform, imported_events, skipped_events, invalid_events, started_at)
		VALUES ($1, $2, $3, $4, 0, 0, 0, $5)
	`
	if _, err := tx.ExecContext(ctx, query,
		record.ID, record.SiteID, record.OrgID, record.Platform, record.StartedAt,
	); err != nil {
		return fmt.Errorf("failed to insert import job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get fetches one import job by id
func (s *PostgresService) Get(ctx context.Context, importID uuid.UUID) (*ImportRecord, error) {
	query := `
		SELECT id, site_id, org_id, platform, imported_events, skipped_events, invalid_events, started_at, completed_at
		FROM import_jobs
		WHERE id = $1
	`
	record := &ImportRecord{}
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, importID).Scan(
		&record.ID, &record.SiteID, &record.OrgID, &record.Platform,
		&record.ImportedEvents, &record.SkippedEvents, &record.InvalidEvents,
		&record.StartedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "import", ID: importID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}
	return record, nil
}

// ListBySite lists a site's import jobs, newest first
func (s *PostgresService) ListBySite(ctx context.Context, siteID uuid.UUID) ([]*ImportRecord, error) {
	query := `
		SELECT id, site_id, org_id, platform, imported_events, skipped_events, invalid_events, started_at, completed_at
		FROM import_jobs
		WHERE site_id = $1
		ORDER BY started_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	var records []*ImportRecord
	for rows.Next() {
		record := &ImportRecord{}
		var completedAt sql.NullTime
		if err := rows.Scan(
			&record.ID, &record.SiteID, &record.OrgID, &record.Platform,
			&record.ImportedEvents, &record.SkippedEvents, &record.InvalidEvents,
			&record.StartedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		if completedAt.Valid {
			record.CompletedAt = &completedAt.Time
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate import jobs: %w", err)
	}

	return records, nil
}

// AddCounts adds one batch's outcome counts to the job's progress counters.
// The counters are advisory; concurrent batches may interleave.
func (s *PostgresService) AddCounts(ctx context.Context, importID uuid.UUID, imported, skipped, invalid int64) error {
	query := `
		UPDATE import_jobs
		SET imported_events = imported_events + $1,
		    skipped_events = skipped_events + $2,
		    invalid_events = invalid_events + $3
		WHERE id = $4
	`
	result, err := s.db.ExecContext(ctx, query, imported, skipped, invalid, importID)
	if err != nil {
		return fmt.Errorf("failed to update import counters: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &NotFoundError{Resource: "import", ID: importID}
	}
	return nil
}

// ListStale returns open jobs started before the cutoff, oldest first
func (s *PostgresService) ListStale(ctx context.Context, cutoff time.Time) ([]*ImportRecord, error) {
	query := `
		SELECT id, site_id, org_id, platform, imported_events, skipped_events, invalid_events, started_at, completed_at
		FROM import_jobs
		WHERE completed_at IS NULL AND started_at < $1
		ORDER BY started_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale imports: %w", err)
	}
	defer rows.Close()

	var records []*ImportRecord
	for rows.Next() {
		record := &ImportRecord{}
		var completedAt sql.NullTime
		if err := rows.Scan(
			&record.ID, &record.SiteID, &record.OrgID, &record.Platform,
			&record.ImportedEvents, &record.SkippedEvents, &record.InvalidEvents,
			&record.StartedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate import jobs: %w", err)
	}

	return records, nil
}

// Complete marks the job terminal. The completed_at IS NULL predicate makes
// the timestamp write-once.
func (s *PostgresService) Complete(ctx context.Context, importID uuid.UUID) error {
	query := `
		UPDATE import_jobs
		SET completed_at = NOW()
		WHERE id = $1 AND completed_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, importID)
	if err != nil {
		return fmt.Errorf("failed to complete import job: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &ConflictError{Reason: "import not found or already completed"}
	}
	return nil
}

// Delete removes a terminal job's record. Open jobs are never deleted here;
// the predicate refuses them.
func (s *PostgresService) Delete(ctx context.Context, importID uuid.UUID) error {
	query := `DELETE FROM import_jobs WHERE id = $1 AND completed_at IS NOT NULL`
	result, err := s.db.ExecContext(ctx, query, importID)
	if err != nil {
		return fmt.Errorf("failed to delete import job: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &ConflictError{Reason: "import not found or still active"}
	}
	return nil
}
