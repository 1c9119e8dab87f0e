// ABOUTME: HTTP handler for the health endpoint
// ABOUTME: Reports session store backend, scheduler state, and security counters

package handlers

import (
	"net/http"
	"time"

	"github.com/markalston/portal-gateway/models"
)

// Health returns gateway component status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:       "ok",
		SessionStore: "not_configured",
		Timestamp:    time.Now().UTC(),
	}
	if h.Store != nil {
		resp.SessionStore = h.Store.Name()
	}
	if h.Scheduler != nil {
		resp.SchedulerRunning = h.Scheduler.Running()
	}
	if h.Login != nil {
		resp.ActiveTransactions = h.Login.Active()
	}
	if h.Gateway != nil {
		resp.BlockedIPs, _ = h.Gateway.Stats()
	}

	h.writeJSON(w, http.StatusOK, resp)
}
