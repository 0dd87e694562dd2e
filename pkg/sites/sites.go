// Package sites resolves sites to their owning organizations. The site
// directory itself is maintained elsewhere; this package only reads it.
package sites

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Site is one tracked website or application
type Site struct {
	ID     uuid.UUID `json:"site_id"`
	OrgID  uuid.UUID `json:"org_id"`
	Domain string    `json:"domain"`
}

// NotFoundError means the site does not exist
type NotFoundError struct {
	ID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("site not found: %s", e.ID)
}

// IsNotFound checks if an error is or wraps a site NotFoundError
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// Directory looks up sites
type Directory interface {
	GetSite(ctx context.Context, siteID uuid.UUID) (*Site, error)
}

// PostgresDirectory implements Directory on the relational store
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a site directory
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// GetSite fetches one site by id
func (d *PostgresDirectory) GetSite(ctx context.Context, siteID uuid.UUID) (*Site, error) {
	query := `
		SELECT id, org_id, domain
		FROM sites
		WHERE id = $1
	`
	site := &Site{}
	err := d.db.QueryRowContext(ctx, query, siteID).Scan(&site.ID, &site.OrgID, &site.Domain)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: siteID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return site, nil
}
