// ABOUTME: HTTP audit logging middleware with correlation IDs
// ABOUTME: Logs method, sanitized path, client IP, status, latency, and a client signature

package middleware

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// AuditRequest logs every request with the fields needed to trace abuse:
// method, path, client IP, status, latency, and a truncated user-agent hash.
func AuditRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := generateRequestID()

		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(wrapped, r)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", sanitizePath(r.URL.Path),
			"ip", ClientIP(r),
			"status", wrapped.statusCode,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_sig", ClientSignature(r.UserAgent()),
		}
		if wrapped.statusCode >= http.StatusBadRequest {
			slog.Warn("Request audited", attrs...)
			return
		}
		slog.Info("Request audited", attrs...)
	}
}

// ClientSignature is the first 16 hex chars of the SHA-256 of the user agent
func ClientSignature(ua string) string {
	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:])[:16]
}

// sanitizePath strips control characters so a crafted path cannot forge log lines
func sanitizePath(path string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, path)
}

// generateRequestID creates a short random hex ID.
func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
