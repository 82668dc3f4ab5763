// Package handlers provides the REST API for recording changes and driving
// synchronization.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kimhsiao/ledgersync/internal/db"
	apperrors "github.com/kimhsiao/ledgersync/internal/errors"
	"github.com/kimhsiao/ledgersync/internal/logging"
	"github.com/kimhsiao/ledgersync/internal/models"
	syncpkg "github.com/kimhsiao/ledgersync/internal/sync"
	"github.com/kimhsiao/ledgersync/internal/sync/scheduler"
)

// Scheduler runs passes on demand and reports background state.
type Scheduler interface {
	SyncNow(ctx context.Context) syncpkg.SyncResult
	GetStatus(ctx context.Context) scheduler.SchedulerStatus
}

// PendingLister lists queued changes. *queue.ChangeQueue satisfies it.
type PendingLister interface {
	Pending(ctx context.Context) ([]*models.QueuedChange, error)
}

// ConnectivitySetter accepts the host-pushed connectivity signal.
type ConnectivitySetter interface {
	IsOnline() bool
	SetOnline(online bool) bool
}

// SyncHandler handles change recording and sync operations.
type SyncHandler struct {
	engine    syncpkg.SyncEngineInterface
	scheduler Scheduler
	queue     PendingLister
	repo      db.SyncRepository // nil when no local database is configured
	conn      ConnectivitySetter
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(engine syncpkg.SyncEngineInterface, sched Scheduler, queue PendingLister, repo db.SyncRepository, conn ConnectivitySetter) *SyncHandler {
	return &SyncHandler{
		engine:    engine,
		scheduler: sched,
		queue:     queue,
		repo:      repo,
		conn:      conn,
	}
}

// changeRequest is the body of POST /api/changes.
type changeRequest struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	ChangeKind models.ChangeKind `json:"change_kind"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
}

// RecordChange handles POST /api/changes
// The change is validated up front so callers get a 400 for malformed input;
// recording itself never fails visibly.
func (h *SyncHandler) RecordChange(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, "Invalid request body")
		return
	}

	var payload models.Payload
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		p, err := models.DecodePayload(req.EntityType, req.Payload)
		if err != nil {
			writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, err.Error())
			return
		}
		payload = p
	}

	if err := models.ValidateChange(req.EntityType, req.EntityID, req.ChangeKind, payload); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, err.Error())
		return
	}

	h.engine.RecordChange(r.Context(), req.EntityType, req.EntityID, req.ChangeKind, payload)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":        "queued",
		"pending_count": h.engine.PendingChangesCount(r.Context()),
	})
}

// TriggerSync handles POST /api/sync
// Runs a pass and returns its counts. A pass already running yields a
// skipped result with 409.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result := h.scheduler.SyncNow(r.Context())

	status := http.StatusOK
	if result.Skipped {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":    h.engine.Status(ctx),
		"scheduler": h.scheduler.GetStatus(ctx),
	})
}

// ListPending handles GET /api/sync/pending
func (h *SyncHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.Pending(r.Context())
	if err != nil {
		logging.ErrorWithCode("Failed to list pending changes", string(apperrors.ErrStorage), err, nil)
		writeError(w, http.StatusInternalServerError, apperrors.ErrStorage, "Failed to read offline queue")
		return
	}
	if pending == nil {
		pending = []*models.QueuedChange{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(pending),
		"changes": pending,
	})
}

// ListFailed handles GET /api/sync/failed?limit=N
func (h *SyncHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"count": 0, "changes": []*models.FailedChange{}})
		return
	}

	failed, err := h.repo.ListFailedChanges(r.Context(), limitParam(r))
	if err != nil {
		logging.ErrorWithCode("Failed to list dropped changes", string(apperrors.ErrStorage), err, nil)
		writeError(w, http.StatusInternalServerError, apperrors.ErrStorage, "Failed to read dropped changes")
		return
	}
	if failed == nil {
		failed = []*models.FailedChange{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(failed),
		"changes": failed,
	})
}

// PurgeFailed handles DELETE /api/sync/failed
func (h *SyncHandler) PurgeFailed(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"purged": 0})
		return
	}

	n, err := h.repo.PurgeFailedChanges(r.Context())
	if err != nil {
		logging.ErrorWithCode("Failed to purge dropped changes", string(apperrors.ErrStorage), err, nil)
		writeError(w, http.StatusInternalServerError, apperrors.ErrStorage, "Failed to purge dropped changes")
		return
	}
	logging.Info("Purged dropped changes", map[string]interface{}{"count": n})
	writeJSON(w, http.StatusOK, map[string]interface{}{"purged": n})
}

// ListConflicts handles GET /api/sync/conflicts?limit=N
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"count": 0, "conflicts": []*models.ConflictLog{}})
		return
	}

	logs, err := h.repo.ListConflictLogs(r.Context(), limitParam(r))
	if err != nil {
		logging.ErrorWithCode("Failed to list conflicts", string(apperrors.ErrStorage), err, nil)
		writeError(w, http.StatusInternalServerError, apperrors.ErrStorage, "Failed to read conflict log")
		return
	}
	if logs == nil {
		logs = []*models.ConflictLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(logs),
		"conflicts": logs,
	})
}

// SetConnectivity handles POST /api/connectivity
// Body: {"online": bool}
func (h *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, "online is required")
		return
	}

	changed := h.conn.SetOnline(*req.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online":  h.conn.IsOnline(),
		"changed": changed,
	})
}

// Health handles GET /api/health
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "ledgersync",
		"online":  h.conn.IsOnline(),
	})
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 100
	}
	if n > 1000 {
		return 1000
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ErrorWithCode("Failed to encode response", string(apperrors.ErrInternal), err, nil)
	}
}

func writeError(w http.ResponseWriter, status int, code apperrors.ErrorCode, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": message,
		"code":  code,
	})
}
