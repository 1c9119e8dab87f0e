// ABOUTME: JSON error response helpers for middleware
// ABOUTME: Maps security gateway errors to status codes in the API's JSON error format

package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/markalston/portal-gateway/models"
)

// writeJSONError writes an error response as JSON with the given status code.
// Matches the format used by handlers.writeError for consistency.
func writeJSONError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeSecurityError writes err with the status its sentinel maps to
func writeSecurityError(w http.ResponseWriter, err error) {
	writeJSONError(w, err.Error(), securityStatus(err))
}

func securityStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrSecureSessionAbsent):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrIPBlocked),
		errors.Is(err, models.ErrSessionHijackSuspected),
		errors.Is(err, models.ErrCSRFInvalid):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
