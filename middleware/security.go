// ABOUTME: Security gateway middleware for the public login surface
// ABOUTME: Block list, user-agent heuristics, and IP-bound secure session checks

package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/markalston/portal-gateway/models"
	"github.com/markalston/portal-gateway/services"
)

// SecureSessionHeader carries the secure id issued by login start
const SecureSessionHeader = "X-Secure-Session"

const bindingKey contextKey = "secureSession"

// Blocklist rejects requests from blocked IPs before any other work
func Blocklist(g *services.SecurityGateway) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if g.IsBlocked(ip) {
				slog.Warn("Request from blocked IP rejected", "ip", ip, "path", r.URL.Path)
				writeSecurityError(w, models.ErrIPBlocked)
				return
			}
			next(w, r)
		}
	}
}

// Heuristics flags missing and scanner user agents, rejecting them when the
// gateway is configured to block suspicious agents
func Heuristics(g *services.SecurityGateway) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			reason, reject := g.CheckAgent(r.UserAgent())
			if reason != "" {
				slog.Warn("Suspicious user agent", "ip", ClientIP(r), "path", r.URL.Path,
					"reason", reason, "rejected", reject)
			}
			if reject {
				writeJSONError(w, "Request rejected", http.StatusForbidden)
				return
			}
			next(w, r)
		}
	}
}

// SecureSession requires a valid X-Secure-Session bound to the caller's IP
// and stores the binding in the request context
func SecureSession(g *services.SecurityGateway) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			b, err := g.ValidateBinding(r.Header.Get(SecureSessionHeader), ip)
			if err != nil {
				slog.Warn("Secure session rejected", "ip", ip, "path", r.URL.Path, "error", err)
				writeSecurityError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), bindingKey, &b)
			next(w, r.WithContext(ctx))
		}
	}
}

// GetBinding returns the secure session validated for this request, or nil
func GetBinding(r *http.Request) *models.SecureSessionBinding {
	b, ok := r.Context().Value(bindingKey).(*models.SecureSessionBinding)
	if !ok {
		return nil
	}
	return b
}
