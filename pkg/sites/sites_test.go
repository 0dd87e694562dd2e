package sites

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	directory := NewPostgresDirectory(db)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		siteID := uuid.New()
		orgID := uuid.New()

		mock.ExpectQuery(`SELECT id, org_id, domain
		FROM sites
		WHERE id = \$1`).
			WithArgs(siteID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "domain"}).
				AddRow(siteID, orgID, "example.com"))

		site, err := directory.GetSite(ctx, siteID)
		require.NoError(t, err)
		assert.Equal(t, siteID, site.ID)
		assert.Equal(t, orgID, site.OrgID)
		assert.Equal(t, "example.com", site.Domain)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		siteID := uuid.New()

		mock.ExpectQuery(`SELECT id, org_id, domain
		FROM sites
		WHERE id = \$1`).
			WithArgs(siteID).
			WillReturnError(sql.ErrNoRows)

		site, err := directory.GetSite(ctx, siteID)
		require.Error(t, err)
		assert.Nil(t, site)
		assert.True(t, IsNotFound(err))

		require.NoError(t, mock.ExpectationsWereMet())
	})
}
