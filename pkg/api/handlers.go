package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/evertide/evertide/pkg/events"
	"github.com/evertide/evertide/pkg/httputil"
	"github.com/evertide/evertide/pkg/imports"
	"github.com/evertide/evertide/pkg/observability"
	"github.com/evertide/evertide/pkg/pipeline"
	"github.com/evertide/evertide/pkg/platforms"
	"github.com/evertide/evertide/pkg/sites"
)

// AccessChecker decides whether the caller administers a site. The identity
// layer lives elsewhere; handlers only consume the verdict.
type AccessChecker interface {
	CanManageSite(r *http.Request, siteID uuid.UUID) bool
}

// PermitAll allows every caller. The default when no identity layer is wired.
type PermitAll struct{}

// CanManageSite always returns true
func (PermitAll) CanManageSite(*http.Request, uuid.UUID) bool { return true }

// ImportService is the pipeline surface the handlers consume
type ImportService interface {
	StartImport(ctx context.Context, siteID uuid.UUID, platform string) (*pipeline.StartResult, error)
	ProcessBatch(ctx context.Context, siteID, importID uuid.UUID, rawEvents []json.RawMessage, isLastBatch bool) error
	ListImports(ctx context.Context, siteID uuid.UUID) ([]*imports.ImportRecord, error)
	DeleteImport(ctx context.Context, siteID, importID uuid.UUID) (int64, error)
}

// ImportHandlers provides the HTTP handlers for import management
type ImportHandlers struct {
	pipeline ImportService
	access   AccessChecker
	logger   *observability.Logger
}

// NewImportHandlers creates new import handlers
func NewImportHandlers(p ImportService, access AccessChecker, logger *observability.Logger) *ImportHandlers {
	if access == nil {
		access = PermitAll{}
	}
	return &ImportHandlers{pipeline: p, access: access, logger: logger}
}

// RegisterRoutes registers the import routes
func (h *ImportHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sites/{site_id}/import", h.startImport).Methods("POST")
	router.HandleFunc("/sites/{site_id}/import/{import_id}/batch", h.processBatch).Methods("POST")
	router.HandleFunc("/sites/{site_id}/imports", h.listImports).Methods("GET")
	router.HandleFunc("/sites/{site_id}/import/{import_id}", h.deleteImport).Methods("DELETE")
}

type startImportRequest struct {
	Platform string `json:"platform"`
}

type startImportResponse struct {
	ImportID         uuid.UUID          `json:"import_id"`
	AllowedDateRange pipeline.DateRange `json:"allowed_date_range"`
}

// startImport handles POST /sites/{site_id}/import
func (h *ImportHandlers) startImport(w http.ResponseWriter, r *http.Request) {
	siteID, err := httputil.ParsePathUUID(r, "site_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid site id")
		return
	}
	if !h.access.CanManageSite(r, siteID) {
		httputil.WriteForbidden(w, "not authorized to manage this site")
		return
	}

	var req startImportRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.Platform == "" {
		httputil.WriteBadRequest(w, "platform is required")
		return
	}

	result, err := h.pipeline.StartImport(r.Context(), siteID, req.Platform)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	httputil.WriteCreated(w, startImportResponse{
		ImportID:         result.Record.ID,
		AllowedDateRange: result.AllowedDateRange,
	})
}

type batchRequest struct {
	Events      []json.RawMessage `json:"events"`
	IsLastBatch bool              `json:"is_last_batch,omitempty"`
}

// processBatch handles POST /sites/{site_id}/import/{import_id}/batch
func (h *ImportHandlers) processBatch(w http.ResponseWriter, r *http.Request) {
	siteID, err := httputil.ParsePathUUID(r, "site_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid site id")
		return
	}
	importID, err := httputil.ParsePathUUID(r, "import_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid import id")
		return
	}
	if !h.access.CanManageSite(r, siteID) {
		httputil.WriteForbidden(w, "not authorized to manage this site")
		return
	}

	var req batchRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := h.pipeline.ProcessBatch(r.Context(), siteID, importID, req.Events, req.IsLastBatch); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, struct{}{})
}

type importListEntry struct {
	ImportID       uuid.UUID  `json:"import_id"`
	Platform       string     `json:"platform"`
	Status         string     `json:"status"`
	ImportedEvents int64      `json:"imported_events"`
	SkippedEvents  int64      `json:"skipped_events"`
	InvalidEvents  int64      `json:"invalid_events"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// listImports handles GET /sites/{site_id}/imports
func (h *ImportHandlers) listImports(w http.ResponseWriter, r *http.Request) {
	siteID, err := httputil.ParsePathUUID(r, "site_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid site id")
		return
	}
	if !h.access.CanManageSite(r, siteID) {
		httputil.WriteForbidden(w, "not authorized to manage this site")
		return
	}

	records, err := h.pipeline.ListImports(r.Context(), siteID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	entries := make([]importListEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, importListEntry{
			ImportID:       record.ID,
			Platform:       record.Platform,
			Status:         string(record.Status()),
			ImportedEvents: record.ImportedEvents,
			SkippedEvents:  record.SkippedEvents,
			InvalidEvents:  record.InvalidEvents,
			StartedAt:      record.StartedAt,
			CompletedAt:    record.CompletedAt,
		})
	}

	httputil.WriteSuccess(w, map[string]interface{}{"imports": entries})
}

type deleteImportResponse struct {
	EventsDeleted int64 `json:"events_deleted"`
}

// deleteImport handles DELETE /sites/{site_id}/import/{import_id}
func (h *ImportHandlers) deleteImport(w http.ResponseWriter, r *http.Request) {
	siteID, err := httputil.ParsePathUUID(r, "site_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid site id")
		return
	}
	importID, err := httputil.ParsePathUUID(r, "import_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid import id")
		return
	}
	if !h.access.CanManageSite(r, siteID) {
		httputil.WriteForbidden(w, "not authorized to manage this site")
		return
	}

	deleted, err := h.pipeline.DeleteImport(r.Context(), siteID, importID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, deleteImportResponse{EventsDeleted: deleted})
}

// writeDomainError maps domain errors to status codes. The concurrency gate
// is the one conflict answered with 429; every other conflict is a 400.
func (h *ImportHandlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case sites.IsNotFound(err), imports.IsNotFound(err):
		httputil.WriteNotFound(w, err.Error())
	case platforms.IsUnknownPlatform(err), platforms.IsInvalidRecord(err):
		httputil.WriteBadRequest(w, err.Error())
	case imports.IsConflict(err):
		var conflict *imports.ConflictError
		if errors.As(err, &conflict) && conflict.LimitReached {
			httputil.WriteTooManyRequests(w, conflict.Reason)
			return
		}
		httputil.WriteBadRequest(w, err.Error())
	case events.IsStorageError(err):
		h.logger.WithError(err).Error("Event store operation failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "event store failure, batch not applied")
	default:
		h.logger.WithError(err).Error("Unexpected error handling import request")
		httputil.WriteInternalError(w)
	}
}
