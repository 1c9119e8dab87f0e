// ABOUTME: CSRF protection middleware using one-time server-side tokens
// ABOUTME: Tokens are bound to the caller's IP and secure session and spent on first use

package middleware

import (
	"log/slog"
	"net/http"

	"github.com/markalston/portal-gateway/models"
	"github.com/markalston/portal-gateway/services"
)

// CSRFHeader carries the one-time token on state-changing requests
const CSRFHeader = "X-CSRF-Token"

// CSRF returns middleware that consumes the request's CSRF token.
// It must run inside SecureSession. Safe methods are not checked.
func CSRF(g *services.SecurityGateway) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next(w, r)
				return
			}

			b := GetBinding(r)
			if b == nil {
				writeSecurityError(w, models.ErrSecureSessionAbsent)
				return
			}

			ip := ClientIP(r)
			if err := g.ConsumeCSRF(r.Header.Get(CSRFHeader), ip, b.SecureID); err != nil {
				slog.Debug("CSRF rejected", "path", r.URL.Path)
				writeSecurityError(w, err)
				return
			}

			next(w, r)
		}
	}
}
