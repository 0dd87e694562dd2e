package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one analytical event row, already transformed from a
// platform-specific raw record
type Event struct {
	ID        uuid.UUID         `json:"id"`
	SiteID    uuid.UUID         `json:"site_id"`
	ImportID  uuid.UUID         `json:"import_id"`
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	VisitorID string            `json:"visitor_id,omitempty"`
	Pathname  string            `json:"pathname,omitempty"`
	Referrer  string            `json:"referrer,omitempty"`
	Country   string            `json:"country,omitempty"`
	Props     map[string]string `json:"props,omitempty"`
}

// StorageError wraps a failure of the analytical store. A batch insert that
// returns a StorageError was not applied at all.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("event store %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError checks if an error is a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
