// ABOUTME: HTTP handlers for the sync scheduler and on-demand sync
// ABOUTME: Status, start, stop, and single-owner or single-unit sync

package handlers

import (
	"context"
	"net/http"

	"github.com/markalston/portal-gateway/models"
)

// SchedulerStatus reports the scheduler loop state and last run
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		h.writeError(w, "Scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

// SchedulerStart starts the periodic loop
func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		h.writeError(w, "Scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	// the loop outlives this request
	h.Scheduler.Start(context.WithoutCancel(r.Context()))
	h.writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

// SchedulerStop stops the periodic loop
func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		h.writeError(w, "Scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	h.Scheduler.Stop()
	h.writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

// Sync runs an immediate sync for one owner, or one of its units
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		h.writeError(w, "Scheduler not configured", http.StatusServiceUnavailable)
		return
	}

	var req models.SyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	res, err := h.Scheduler.SyncUnit(r.Context(), req.Owner, req.Unit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}
