package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/kimhsiao/ledgersync/internal/errors"
)

// RegisterRoutes mounts the sync API on r.
func RegisterRoutes(r chi.Router, h *SyncHandler) {
	r.Get("/api/health", h.Health)
	r.Post("/api/changes", h.RecordChange)
	r.Post("/api/connectivity", h.SetConnectivity)

	r.Route("/api/sync", func(r chi.Router) {
		r.Post("/", h.TriggerSync)
		r.Get("/status", h.GetStatus)
		r.Get("/pending", h.ListPending)
		r.Get("/failed", h.ListFailed)
		r.Delete("/failed", h.PurgeFailed)
		r.Get("/conflicts", h.ListConflicts)
	})
}

// NotFound returns a JSON 404 for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, apperrors.ErrNotFound, "no route for "+r.URL.Path)
}
