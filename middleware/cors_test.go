// ABOUTME: Tests for CORS middleware functionality
// ABOUTME: Verifies origin allow-listing and OPTIONS preflight handling

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS_AllowedOrigin(t *testing.T) {
	handler := CORSWithConfig([]string{"https://app.example.com"})(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://app.example.com")
	}
	headers := rec.Header().Get("Access-Control-Allow-Headers")
	for _, h := range []string{"X-Secure-Session", "X-CSRF-Token", "Authorization"} {
		if !strings.Contains(headers, h) {
			t.Errorf("Access-Control-Allow-Headers = %q, missing %s", headers, h)
		}
	}
}

func TestCORS_UnknownOriginGetsNoHeaders(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
	}{
		{"empty allow list", nil},
		{"other origin", []string{"https://app.example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORSWithConfig(tt.origins)(func(w http.ResponseWriter, r *http.Request) {})
			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			req.Header.Set("Origin", "https://evil.example.com")
			rec := httptest.NewRecorder()
			handler(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
				t.Errorf("Expected no Access-Control-Allow-Origin, got %q", got)
			}
		})
	}
}

func TestCORS_Wildcard(t *testing.T) {
	handler := CORSWithConfig([]string{"*"})(func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Origin", "https://any.example.com")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://any.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORS_HandlesPreflight(t *testing.T) {
	handlerCalled := false
	handler := CORSWithConfig([]string{"*"})(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/test", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if handlerCalled {
		t.Error("Handler should not be called for OPTIONS preflight")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}
