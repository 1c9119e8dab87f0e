// ABOUTME: HTTP handlers for the public SMS login flow
// ABOUTME: Start, phone selection, code verification, and transaction status

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/markalston/portal-gateway/middleware"
	"github.com/markalston/portal-gateway/models"
)

// LoginStart launches a login transaction and binds it to the caller's IP
func (h *Handler) LoginStart(w http.ResponseWriter, r *http.Request) {
	if h.Login == nil || h.Gateway == nil {
		h.writeError(w, "Login not configured", http.StatusServiceUnavailable)
		return
	}

	var req models.LoginStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	view, err := h.Login.Start(r.Context(), req.OwnerIdentifier)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	ip := middleware.ClientIP(r)
	binding, err := h.Gateway.CreateBinding(ip, view.ID, view.OwnerKey)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	token, err := h.Gateway.IssueCSRF(ip, binding.SecureID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, models.LoginStartResponse{
		TransactionID: view.ID,
		SecureID:      binding.SecureID,
		CSRFToken:     token,
		PhoneOptions:  view.PhoneOptions,
	})
}

// LoginSelectPhone asks the portal to send the SMS code to the chosen number
func (h *Handler) LoginSelectPhone(w http.ResponseWriter, r *http.Request) {
	if h.Login == nil || h.Gateway == nil {
		h.writeError(w, "Login not configured", http.StatusServiceUnavailable)
		return
	}

	var req models.SelectPhoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.nextCSRF(w, r)
		h.writeErr(w, r, err)
		return
	}
	if !h.ownsTransaction(w, r, req.TransactionID) {
		return
	}

	_, err := h.Login.SelectPhone(r.Context(), req.TransactionID, req.Phone)
	token := h.nextCSRF(w, r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, models.SelectPhoneResponse{Ack: true, CSRFToken: token})
}

// LoginVerifyCode submits the SMS code and persists the captured session
func (h *Handler) LoginVerifyCode(w http.ResponseWriter, r *http.Request) {
	if h.Login == nil || h.Gateway == nil {
		h.writeError(w, "Login not configured", http.StatusServiceUnavailable)
		return
	}

	var req models.VerifyCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.nextCSRF(w, r)
		h.writeErr(w, r, err)
		return
	}
	if !h.ownsTransaction(w, r, req.TransactionID) {
		return
	}

	session, err := h.Login.VerifyCode(r.Context(), req.TransactionID, req.Code)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			// a rejected code counts toward the IP lockout
			ip := middleware.ClientIP(r)
			if h.Gateway.RecordFailure(ip) {
				h.writeErr(w, r, models.ErrIPBlocked)
				return
			}
			h.nextCSRF(w, r)
		}
		h.writeErr(w, r, err)
		return
	}

	summary := models.SummarizeTokens(&session.Tokens, session.CapturedAt)
	h.writeJSON(w, http.StatusOK, models.VerifyCodeResponse{
		Success:      true,
		TokenSummary: &summary,
	})
}

// LoginStatus reports the phase of the caller's transaction
func (h *Handler) LoginStatus(w http.ResponseWriter, r *http.Request) {
	if h.Login == nil {
		h.writeError(w, "Login not configured", http.StatusServiceUnavailable)
		return
	}

	txID := r.URL.Query().Get("transaction_id")
	if !h.ownsTransaction(w, r, txID) {
		return
	}

	view, err := h.Login.Status(txID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// ownsTransaction checks the request's secure session was issued for txID
func (h *Handler) ownsTransaction(w http.ResponseWriter, r *http.Request, txID string) bool {
	b := middleware.GetBinding(r)
	if b == nil {
		h.writeErr(w, r, models.ErrSecureSessionAbsent)
		return false
	}
	if txID == "" {
		h.writeErr(w, r, models.ValidationErrorf("transaction_id is required"))
		return false
	}
	if txID != b.TransactionID {
		slog.Warn("Transaction does not match secure session",
			"ip", middleware.ClientIP(r), "transaction_id", txID)
		h.writeError(w, "Transaction does not belong to this secure session", http.StatusForbidden)
		return false
	}
	return true
}

// nextCSRF issues the follow-up CSRF token and sets it as a response header
func (h *Handler) nextCSRF(w http.ResponseWriter, r *http.Request) string {
	b := middleware.GetBinding(r)
	if b == nil {
		return ""
	}
	token, err := h.Gateway.IssueCSRF(middleware.ClientIP(r), b.SecureID)
	if err != nil {
		slog.Error("Failed to issue CSRF token", "error", err)
		return ""
	}
	w.Header().Set(middleware.CSRFHeader, token)
	return token
}
