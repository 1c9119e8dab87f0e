// ABOUTME: Operator authentication middleware for downstream and admin endpoints
// ABOUTME: Validates a static bearer API key; disabled mode passes all requests through

package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// AuthMode defines how authentication is enforced
type AuthMode string

const (
	// AuthModeDisabled skips all authentication
	AuthModeDisabled AuthMode = "disabled"
	// AuthModeRequired rejects requests without a valid operator key
	AuthModeRequired AuthMode = "required"
)

// AuthConfig holds authentication middleware settings
type AuthConfig struct {
	Mode   AuthMode
	APIKey string
}

// ValidateAuthMode validates an auth mode string and returns the corresponding AuthMode.
// Empty string defaults to AuthModeRequired.
func ValidateAuthMode(mode string) (AuthMode, error) {
	switch mode {
	case "", "required":
		return AuthModeRequired, nil
	case "disabled":
		return AuthModeDisabled, nil
	default:
		return "", fmt.Errorf("invalid auth mode: %q (must be disabled or required)", mode)
	}
}

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const operatorKey contextKey = "operator"

// OperatorAuth returns middleware that requires "Authorization: Bearer <key>".
// In required mode with no key configured every request is rejected, so
// operator endpoints stay closed until a key is set.
func OperatorAuth(cfg AuthConfig) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if cfg.Mode == AuthModeDisabled {
				next(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				slog.Debug("Auth rejected: no auth provided", "path", r.URL.Path)
				writeJSONError(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				slog.Debug("Auth rejected: invalid format", "path", r.URL.Path)
				writeJSONError(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) != 1 {
				slog.Warn("Auth rejected: invalid operator key", "path", r.URL.Path, "ip", ClientIP(r))
				writeJSONError(w, "Invalid operator key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, true)
			next(w, r.WithContext(ctx))
		}
	}
}

// IsOperator reports whether the request passed operator authentication
func IsOperator(r *http.Request) bool {
	ok, _ := r.Context().Value(operatorKey).(bool)
	return ok
}
