package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evertide/evertide/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					plan_tier VARCHAR(64) NOT NULL DEFAULT 'free',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create sites table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sites (
					id UUID PRIMARY KEY,
					org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					domain VARCHAR(255) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_sites_org_id ON sites(org_id);
			`,
		},
		{
			Version:     3,
			Description: "Create plan_tiers table",
			SQL: `
				CREATE TABLE IF NOT EXISTS plan_tiers (
					tier VARCHAR(64) PRIMARY KEY,
					monthly_event_limit BIGINT NOT NULL DEFAULT 0,
					history_months INT NOT NULL DEFAULT 0
				);

				INSERT INTO plan_tiers (tier, monthly_event_limit, history_months) VALUES
					('free', 100000, 3),
					('growth', 1000000, 12),
					('enterprise', 0, 0)
				ON CONFLICT (tier) DO NOTHING;
			`,
		},
		{
			Version:     4,
			Description: "Create import_jobs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS import_jobs (
					id UUID PRIMARY KEY,
					site_id UUID NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
					org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					platform VARCHAR(64) NOT NULL,
					imported_events BIGINT NOT NULL DEFAULT 0,
					skipped_events BIGINT NOT NULL DEFAULT 0,
					invalid_events BIGINT NOT NULL DEFAULT 0,
					started_at TIMESTAMPTZ NOT NULL,
					completed_at TIMESTAMPTZ
				);

				CREATE INDEX idx_import_jobs_site_id ON import_jobs(site_id);
				CREATE INDEX idx_import_jobs_open ON import_jobs(org_id) WHERE completed_at IS NULL;
			`,
		},
		{
			Version:     5,
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id UUID PRIMARY KEY,
					site_id UUID NOT NULL,
					import_id UUID NOT NULL,
					name VARCHAR(255) NOT NULL,
					timestamp TIMESTAMPTZ NOT NULL,
					visitor_id VARCHAR(255),
					pathname TEXT,
					referrer TEXT,
					country VARCHAR(2),
					props JSONB
				);

				CREATE INDEX idx_events_site_import ON events(site_id, import_id);
				CREATE INDEX idx_events_site_timestamp ON events(site_id, timestamp);
			`,
		},
	}
}

// RunMigrations applies all pending migrations, one transaction each
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
