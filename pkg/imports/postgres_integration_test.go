//go:build integration

package imports

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testSchema = `
CREATE TABLE organizations (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	plan_tier TEXT NOT NULL DEFAULT 'free'
);

CREATE TABLE import_jobs (
	id UUID PRIMARY KEY,
	site_id UUID NOT NULL,
	org_id UUID NOT NULL REFERENCES organizations(id),
	platform TEXT NOT NULL,
	imported_events BIGINT NOT NULL DEFAULT 0,
	skipped_events BIGINT NOT NULL DEFAULT 0,
	invalid_events BIGINT NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX idx_import_jobs_open ON import_jobs (org_id) WHERE completed_at IS NULL;
`

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration test")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("evertide_test"),
		postgres.WithUsername("evertide"),
		postgres.WithPassword("evertide_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Ping())

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return db
}

// Ten simultaneous creation attempts for one organization starting from zero
// open imports must admit exactly one.
func TestCreateWithCheck_ConcurrentAttemptsAdmitExactlyOne(t *testing.T) {
	db := setupPostgres(t)
	service := NewPostgresService(db, 1)
	ctx := context.Background()

	orgID := uuid.New()
	_, err := db.Exec(`INSERT INTO organizations (id, name) VALUES ($1, $2)`, orgID, "acme")
	require.NoError(t, err)

	const attempts = 10

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			record := &ImportRecord{
				ID:        uuid.New(),
				SiteID:    uuid.New(),
				OrgID:     orgID,
				Platform:  "ampere",
				StartedAt: time.Now().UTC(),
			}
			err := service.CreateWithCheck(ctx, record)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)

	var open int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM import_jobs WHERE org_id = $1 AND completed_at IS NULL`, orgID,
	).Scan(&open))
	assert.Equal(t, 1, open)
}

// Completing the open import frees the slot for the next create.
func TestCreateWithCheck_SlotFreedAfterCompletion(t *testing.T) {
	db := setupPostgres(t)
	service := NewPostgresService(db, 1)
	ctx := context.Background()

	orgID := uuid.New()
	_, err := db.Exec(`INSERT INTO organizations (id, name) VALUES ($1, $2)`, orgID, "acme")
	require.NoError(t, err)

	first := &ImportRecord{
		ID: uuid.New(), SiteID: uuid.New(), OrgID: orgID,
		Platform: "ampere", StartedAt: time.Now().UTC(),
	}
	require.NoError(t, service.CreateWithCheck(ctx, first))

	second := &ImportRecord{
		ID: uuid.New(), SiteID: uuid.New(), OrgID: orgID,
		Platform: "matova", StartedAt: time.Now().UTC(),
	}
	err = service.CreateWithCheck(ctx, second)
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	require.NoError(t, service.Complete(ctx, first.ID))
	require.NoError(t, service.CreateWithCheck(ctx, second))
}
