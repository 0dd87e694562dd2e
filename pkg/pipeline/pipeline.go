package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/evertide/evertide/pkg/events"
	"github.com/evertide/evertide/pkg/imports"
	"github.com/evertide/evertide/pkg/observability"
	"github.com/evertide/evertide/pkg/platforms"
	"github.com/evertide/evertide/pkg/quota"
	"github.com/evertide/evertide/pkg/sites"
	"github.com/evertide/evertide/pkg/tiers"
)

// DateRange bounds the event timestamps an import may carry. A nil earliest
// date means the plan does not limit history depth.
type DateRange struct {
	EarliestAllowedDate *time.Time `json:"earliest_allowed_date,omitempty"`
	LatestAllowedDate   time.Time  `json:"latest_allowed_date"`
}

// StartResult is the outcome of an admitted import creation
type StartResult struct {
	Record           *imports.ImportRecord
	AllowedDateRange DateRange
}

// Options wires the pipeline's collaborators
type Options struct {
	Imports   imports.Service
	Events    events.Store
	Sites     sites.Directory
	Tiers     tiers.Resolver
	Quotas    *quota.Registry
	Platforms *platforms.Registry
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Now       func() time.Time
}

// Pipeline orchestrates import admission, batch ingestion and deletion
type Pipeline struct {
	imports   imports.Service
	events    events.Store
	sites     sites.Directory
	tiers     tiers.Resolver
	quotas    *quota.Registry
	platforms *platforms.Registry
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a pipeline from its collaborators
func New(opts Options) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		imports:   opts.Imports,
		events:    opts.Events,
		sites:     opts.Sites,
		tiers:     opts.Tiers,
		quotas:    opts.Quotas,
		platforms: opts.Platforms,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer("github.com/evertide/evertide/pkg/pipeline"),
		now:       now,
	}
}

// StartImport admits a new import for the site through the concurrency gate
// and returns the allowed event date range derived from the organization's
// plan.
func (p *Pipeline) StartImport(ctx context.Context, siteID uuid.UUID, platform string) (*StartResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.StartImport",
		trace.WithAttributes(
			attribute.String("site_id", siteID.String()),
			attribute.String("platform", platform),
		))
	defer span.End()

	site, err := p.sites.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}

	if _, err := p.platforms.Get(platform); err != nil {
		return nil, err
	}

	plan, err := p.tiers.Resolve(ctx, site.OrgID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to resolve plan: %w", err)
	}

	now := p.now().UTC()
	record := &imports.ImportRecord{
		ID:        uuid.New(),
		SiteID:    site.ID,
		OrgID:     site.OrgID,
		Platform:  platform,
		StartedAt: now,
	}

	if err := p.imports.CreateWithCheck(ctx, record); err != nil {
		if imports.IsConflict(err) {
			p.metrics.ImportsDeniedTotal.WithLabelValues("concurrency").Inc()
			p.logger.WithField("org_id", site.OrgID.String()).
				Info("Import creation denied by concurrency gate")
		}
		return nil, err
	}

	p.metrics.ImportsStartedTotal.WithLabelValues(platform).Inc()
	p.metrics.OpenImports.Inc()
	p.logger.WithFields(map[string]interface{}{
		"import_id": record.ID.String(),
		"site_id":   site.ID.String(),
		"platform":  platform,
	}).Info("Import started")

	dateRange := DateRange{LatestAllowedDate: now}
	if oldest := plan.OldestAllowedMonth(now); !oldest.IsZero() {
		dateRange.EarliestAllowedDate = &oldest
	}

	return &StartResult{Record: record, AllowedDateRange: dateRange}, nil
}

// ProcessBatch ingests one chunk of raw events for an open import. The batch
// either applies in full (admitted events stored, counters advanced) or not
// at all (storage error, client retries the identical chunk).
func (p *Pipeline) ProcessBatch(ctx context.Context, siteID, importID uuid.UUID, rawEvents []json.RawMessage, isLastBatch bool) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.ProcessBatch",
		trace.WithAttributes(
			attribute.String("site_id", siteID.String()),
			attribute.String("import_id", importID.String()),
			attribute.Int("batch_size", len(rawEvents)),
			attribute.Bool("is_last_batch", isLastBatch),
		))
	defer span.End()

	record, err := p.imports.Get(ctx, importID)
	if err != nil {
		return err
	}
	if record.SiteID != siteID {
		return &imports.ConflictError{Reason: "import belongs to a different site"}
	}
	if record.Completed() {
		return &imports.ConflictError{Reason: "import already completed"}
	}

	mapper, err := p.platforms.Get(record.Platform)
	if err != nil {
		return fmt.Errorf("failed to resolve mapper: %w", err)
	}

	// All batches of one import must see the same tracker instance; the
	// registry caches it per organization
	tracker, err := p.quotas.Obtain(ctx, record.OrgID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to obtain quota tracker: %w", err)
	}

	start := p.now()

	var (
		mapped  []*platforms.MappedEvent
		invalid int64
	)
	for _, raw := range rawEvents {
		event, err := mapper.Map(raw)
		if err != nil {
			invalid++
			continue
		}
		mapped = append(mapped, event)
	}

	timestamps := make([]string, len(mapped))
	for i, event := range mapped {
		timestamps[i] = event.Timestamp
	}
	admitted, err := tracker.CanImportBatch(ctx, timestamps)
	if err != nil {
		span.RecordError(err)
		p.metrics.BatchesTotal.WithLabelValues(record.Platform, "error").Inc()
		return fmt.Errorf("quota check failed: %w", err)
	}

	rows, droppedAdmitted := p.buildRows(record, mapped, admitted, tracker.OldestAllowedMonth())
	skipped := int64(len(mapped)-len(admitted)) + droppedAdmitted

	if len(rows) > 0 {
		insertStart := p.now()
		err := p.events.InsertBatch(ctx, rows)
		p.metrics.StoreInsertDuration.Observe(p.now().Sub(insertStart).Seconds())
		if err != nil {
			span.RecordError(err)
			p.metrics.StoreInsertsTotal.WithLabelValues("error").Inc()
			p.metrics.StoreErrorsTotal.WithLabelValues("insert").Inc()
			p.metrics.BatchesTotal.WithLabelValues(record.Platform, "error").Inc()
			p.logger.WithError(err).WithField("import_id", importID.String()).
				Error("Batch insert failed, batch not applied")
			return err
		}
		p.metrics.StoreInsertsTotal.WithLabelValues("ok").Inc()
	}

	// Progress counters are advisory; a failure here must not fail the batch,
	// the events are already stored and a client retry would duplicate them
	if err := p.imports.AddCounts(ctx, importID, int64(len(rows)), skipped, invalid); err != nil {
		p.logger.WithError(err).WithField("import_id", importID.String()).
			Error("Failed to update import progress counters")
	}

	p.metrics.EventsImportedTotal.WithLabelValues(record.Platform).Add(float64(len(rows)))
	p.metrics.EventsSkippedTotal.WithLabelValues(record.Platform).Add(float64(skipped))
	p.metrics.EventsInvalidTotal.WithLabelValues(record.Platform).Add(float64(invalid))
	p.metrics.BatchesTotal.WithLabelValues(record.Platform, "ok").Inc()
	p.metrics.BatchDuration.WithLabelValues(record.Platform).Observe(p.now().Sub(start).Seconds())

	if isLastBatch {
		if err := p.imports.Complete(ctx, importID); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to complete import: %w", err)
		}
		p.metrics.ImportsCompletedTotal.WithLabelValues(record.Platform).Inc()
		p.metrics.OpenImports.Dec()
		if err := p.quotas.Evict(ctx, record.OrgID); err != nil {
			p.logger.WithError(err).WithField("org_id", record.OrgID.String()).
				Warn("Failed to release quota tracker")
		}
		p.logger.WithFields(map[string]interface{}{
			"import_id": importID.String(),
			"platform":  record.Platform,
		}).Info("Import completed")
	}

	return nil
}

// buildRows converts the admitted events into store rows, dropping any whose
// timestamp fails validity. Limited plans filter these inside the tracker
// already; unbounded plans admit without per-event checks, so the filter here
// keeps invalid instants out of the store either way.
func (p *Pipeline) buildRows(record *imports.ImportRecord, mapped []*platforms.MappedEvent, admitted []int, oldestAllowed time.Time) ([]*events.Event, int64) {
	now := p.now().UTC()
	rows := make([]*events.Event, 0, len(admitted))
	var dropped int64

	for _, i := range admitted {
		event := mapped[i]
		ts, ok := quota.ParseTimestamp(event.Timestamp)
		if !ok || ts.After(now) {
			dropped++
			continue
		}
		if !oldestAllowed.IsZero() {
			month := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
			if month.Before(oldestAllowed) {
				dropped++
				continue
			}
		}
		rows = append(rows, &events.Event{
			SiteID:    record.SiteID,
			ImportID:  record.ID,
			Name:      event.Name,
			Timestamp: ts,
			VisitorID: event.VisitorID,
			Pathname:  event.Pathname,
			Referrer:  event.Referrer,
			Country:   event.Country,
			Props:     event.Props,
		})
	}

	return rows, dropped
}

// ListImports lists the site's import jobs
func (p *Pipeline) ListImports(ctx context.Context, siteID uuid.UUID) ([]*imports.ImportRecord, error) {
	if _, err := p.sites.GetSite(ctx, siteID); err != nil {
		return nil, err
	}
	return p.imports.ListBySite(ctx, siteID)
}

// DeleteImport rolls back a completed import: the stored events go first,
// then the registry record, then any quota state still held for the
// organization. The quota release is an idempotent no-op when the tracker was
// already evicted at completion.
func (p *Pipeline) DeleteImport(ctx context.Context, siteID, importID uuid.UUID) (int64, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.DeleteImport",
		trace.WithAttributes(
			attribute.String("site_id", siteID.String()),
			attribute.String("import_id", importID.String()),
		))
	defer span.End()

	record, err := p.imports.Get(ctx, importID)
	if err != nil {
		return 0, err
	}
	if record.SiteID != siteID {
		return 0, &imports.ConflictError{Reason: "import belongs to a different site"}
	}
	if !record.Completed() {
		return 0, &imports.ConflictError{Reason: "import is still active"}
	}

	deleted, err := p.events.DeleteByImport(ctx, siteID, importID)
	if err != nil {
		span.RecordError(err)
		p.metrics.StoreErrorsTotal.WithLabelValues("delete").Inc()
		return 0, err
	}

	if err := p.imports.Delete(ctx, importID); err != nil {
		// The events are already gone; the record remains marked completed.
		// Surfacing the error lets the caller retry the deletion.
		span.RecordError(err)
		return deleted, fmt.Errorf("events deleted but import record removal failed: %w", err)
	}

	if err := p.quotas.Evict(ctx, record.OrgID); err != nil {
		p.logger.WithError(err).WithField("org_id", record.OrgID.String()).
			Warn("Failed to release quota tracker")
	}

	p.metrics.ImportsDeletedTotal.WithLabelValues(record.Platform).Inc()
	p.logger.WithFields(map[string]interface{}{
		"import_id":      importID.String(),
		"events_deleted": deleted,
	}).Info("Import deleted")

	return deleted, nil
}
