// ABOUTME: HTTP handler wiring for the portal gateway API
// ABOUTME: Holds service dependencies and the shared JSON response helpers

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/markalston/portal-gateway/config"
	"github.com/markalston/portal-gateway/models"
	"github.com/markalston/portal-gateway/repository"
	"github.com/markalston/portal-gateway/services"
	"github.com/markalston/portal-gateway/store"
)

// Deps are the services handlers delegate to. Any may be nil; endpoints
// that need a missing dependency answer 503.
type Deps struct {
	Store     store.Store
	Login     *services.LoginOrchestrator
	Gateway   *services.SecurityGateway
	Portal    *services.PortalClient
	Repo      repository.Repository
	Scheduler *services.SyncScheduler
}

type Handler struct {
	cfg *config.Config
	Deps
}

func NewHandler(cfg *config.Config, deps Deps) *Handler {
	return &Handler{cfg: cfg, Deps: deps}
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	h.writeJSON(w, code, models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeErr maps err to its status. Server-side failures are logged and
// their detail withheld from the caller.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	resp := models.ErrorResponse{Error: err.Error(), Code: code}

	switch {
	case errors.Is(err, models.ErrPortalBlocked):
		resp.OperatorAttention = true
		slog.Error("Portal blocked request", "path", r.URL.Path, "error", err)
	case code >= http.StatusInternalServerError && code != http.StatusBadGateway:
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
		resp.Error = "Internal server error"
	}
	h.writeJSON(w, code, resp)
}

// statusFor maps the gateway error taxonomy to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAuthExpired), errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrSecureSessionAbsent):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrIPBlocked), errors.Is(err, models.ErrSessionHijackSuspected),
		errors.Is(err, models.ErrCSRFInvalid):
		return http.StatusForbidden
	case errors.Is(err, models.ErrTransactionNotFound), errors.Is(err, models.ErrUnitNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrPhaseTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, models.ErrInvalidPhase), errors.Is(err, models.ErrLoginInProgress),
		errors.Is(err, services.ErrSyncInFlight):
		return http.StatusConflict
	case errors.Is(err, models.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrPortalBlocked):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrTransientNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.ValidationErrorf("invalid request body")
	}
	return nil
}
