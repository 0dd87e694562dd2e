// Package janitor sweeps for imports stuck in a non-terminal state. An
// abandoned import holds its organization's concurrency slot forever; the
// sweep reports such imports and, only when explicitly enabled, abandons them
// by marking them completed and releasing their quota state.
package janitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/evertide/evertide/pkg/imports"
	"github.com/evertide/evertide/pkg/observability"
	"github.com/evertide/evertide/pkg/quota"
)

// ImportSource is the import registry surface the janitor needs
type ImportSource interface {
	ListStale(ctx context.Context, cutoff time.Time) ([]*imports.ImportRecord, error)
	Complete(ctx context.Context, importID uuid.UUID) error
}

// Config holds the sweep settings
type Config struct {
	Schedule string
	StaleAge time.Duration
	// Abandon marks stale imports completed instead of only reporting them
	Abandon bool
}

// Janitor runs the scheduled stale-import sweep
type Janitor struct {
	cron    *cron.Cron
	imports ImportSource
	quotas  *quota.Registry
	logger  *observability.Logger
	config  Config
	now     func() time.Time
}

// New creates a janitor. The cron scheduler logs through logrus.
func New(source ImportSource, quotas *quota.Registry, logger *observability.Logger, config Config) *Janitor {
	cronLogger := logrus.New()
	cronLogger.SetFormatter(&logrus.JSONFormatter{})

	return &Janitor{
		cron: cron.New(
			cron.WithLogger(cron.PrintfLogger(cronLogger)),
		),
		imports: source,
		quotas:  quotas,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// Start schedules the sweep and starts the scheduler
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := j.Sweep(ctx); err != nil {
			j.logger.WithError(err).Error("Stale import sweep failed")
		}
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	j.logger.WithFields(map[string]interface{}{
		"schedule":  j.config.Schedule,
		"stale_age": j.config.StaleAge.String(),
		"abandon":   j.config.Abandon,
	}).Info("Stale import janitor started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep finds imports stuck open beyond the stale age. In report-only mode it
// logs them; in abandon mode it also completes them and evicts their quota
// trackers, freeing the concurrency slot.
func (j *Janitor) Sweep(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.config.StaleAge)

	stale, err := j.imports.ListStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	for _, record := range stale {
		entry := j.logger.WithFields(map[string]interface{}{
			"import_id":  record.ID.String(),
			"org_id":     record.OrgID.String(),
			"platform":   record.Platform,
			"started_at": record.StartedAt.Format(time.RFC3339),
		})

		if !j.config.Abandon {
			entry.Warn("Import stuck in non-terminal state")
			continue
		}

		if err := j.imports.Complete(ctx, record.ID); err != nil {
			entry.WithError(err).Error("Failed to abandon stale import")
			continue
		}
		if err := j.quotas.Evict(ctx, record.OrgID); err != nil {
			entry.WithError(err).Warn("Failed to release quota tracker for abandoned import")
		}
		entry.Warn("Abandoned stale import")
	}

	return nil
}
