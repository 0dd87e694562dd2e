package imports

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state derived from an import's persisted fields
type Status string

const (
	// StatusPending means the import was created but no batch applied yet
	StatusPending Status = "pending"
	// StatusProcessing means at least one batch has been applied
	StatusProcessing Status = "processing"
	// StatusCompleted means the final batch was processed; the job is terminal
	StatusCompleted Status = "completed"
)

// ImportRecord is one bulk import job in the registry
type ImportRecord struct {
	ID             uuid.UUID  `json:"import_id"`
	SiteID         uuid.UUID  `json:"site_id"`
	OrgID          uuid.UUID  `json:"org_id"`
	Platform       string     `json:"platform"`
	ImportedEvents int64      `json:"imported_events"`
	SkippedEvents  int64      `json:"skipped_events"`
	InvalidEvents  int64      `json:"invalid_events"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Status derives the lifecycle state from the record's fields
func (r *ImportRecord) Status() Status {
	if r.CompletedAt != nil {
		return StatusCompleted
	}
	if r.ImportedEvents+r.SkippedEvents+r.InvalidEvents > 0 {
		return StatusProcessing
	}
	return StatusPending
}

// Completed reports whether the import is terminal
func (r *ImportRecord) Completed() bool {
	return r.CompletedAt != nil
}

// LimitCheck is the outcome of an admission check for a site's organization
type LimitCheck struct {
	Allowed bool
	OrgID   uuid.UUID
	Reason  string
}

// ConflictError means the operation conflicts with the import's current
// state: the concurrency limit is reached, the job is already completed, or
// it belongs to a different site. No state was changed. LimitReached marks
// concurrency-gate denials so the HTTP layer can answer 429 instead of 400.
type ConflictError struct {
	Reason       string
	LimitReached bool
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// IsConflict checks if an error is or wraps a ConflictError
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// NotFoundError means the referenced site or import does not exist
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// IsNotFound checks if an error is or wraps a NotFoundError
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}
