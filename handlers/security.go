// ABOUTME: HTTP handlers for security gateway administration
// ABOUTME: Lists and removes block-list entries

package handlers

import (
	"net"
	"net/http"

	"github.com/markalston/portal-gateway/models"
)

// ListBlocked returns the current block list
func (h *Handler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	if h.Gateway == nil {
		h.writeError(w, "Security gateway not configured", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Gateway.Blocked())
}

// Unblock removes an IP from the block list
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	if h.Gateway == nil {
		h.writeError(w, "Security gateway not configured", http.StatusServiceUnavailable)
		return
	}

	var req models.UnblockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if net.ParseIP(req.IP) == nil {
		h.writeErr(w, r, models.ValidationErrorf("ip must be a valid IP address"))
		return
	}

	if !h.Gateway.Unblock(req.IP) {
		h.writeError(w, "IP is not blocked", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"unblocked": req.IP})
}
