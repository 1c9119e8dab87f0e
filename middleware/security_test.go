// ABOUTME: Tests for security gateway middleware
// ABOUTME: Covers block list, agent heuristics, and secure session hijack handling

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestBlocklist(t *testing.T) {
	g := newTestGateway(t)
	g.Block("10.0.0.66", "manual", 0)
	handler := Blocklist(g)(okHandler)

	tests := []struct {
		ip   string
		want int
	}{
		{"10.0.0.66", http.StatusForbidden},
		{"10.0.0.1", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.ip + ":1234"
		rr := httptest.NewRecorder()
		handler(rr, req)
		if rr.Code != tt.want {
			t.Errorf("IP %s: expected %d, got %d", tt.ip, tt.want, rr.Code)
		}
	}
}

func TestHeuristics(t *testing.T) {
	g := newTestGateway(t)
	handler := Heuristics(g)(okHandler)

	tests := []struct {
		name string
		ua   string
		want int
	}{
		{"browser", browserUA, http.StatusOK},
		{"missing agent", "", http.StatusForbidden},
		{"scanner", "sqlmap/1.7", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("User-Agent", tt.ua)
			rr := httptest.NewRecorder()
			handler(rr, req)
			if rr.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestSecureSession_PutsBindingInContext(t *testing.T) {
	g := newTestGateway(t)
	b, _ := g.CreateBinding("10.0.0.1", "tx-42", "12345678900")

	var txID string
	handler := SecureSession(g)(func(w http.ResponseWriter, r *http.Request) {
		if got := GetBinding(r); got != nil {
			txID = got.TransactionID
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set(SecureSessionHeader, b.SecureID)
	handler(httptest.NewRecorder(), req)

	if txID != "tx-42" {
		t.Errorf("Expected binding for tx-42 in context, got %q", txID)
	}
}

func TestSecureSession_Missing(t *testing.T) {
	g := newTestGateway(t)
	handler := SecureSession(g)(okHandler)

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rr.Code)
	}
}

func TestSecureSession_HijackBlocksPresentingIP(t *testing.T) {
	g := newTestGateway(t)
	b, _ := g.CreateBinding("10.0.0.1", "tx-1", "12345678900")
	handler := Chain(okHandler, Blocklist(g), SecureSession(g))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set(SecureSessionHeader, b.SecureID)
	rr := httptest.NewRecorder()
	handler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for foreign IP, got %d", rr.Code)
	}

	// the attacker is now blocked even on unrelated requests
	req = httptest.NewRequest(http.MethodGet, "/other", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rr = httptest.NewRecorder()
	handler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected blocked IP to get 403, got %d", rr.Code)
	}

	// the binding is gone for the owner too
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set(SecureSessionHeader, b.SecureID)
	rr = httptest.NewRecorder()
	handler(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected invalidated binding to give 401, got %d", rr.Code)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next(w, r)
			}
		}
	}

	stack := Stack{mw("a"), nil, mw("b")}.With(mw("c"))
	stack.Then(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"a", "b", "c", "handler"}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, order)
			break
		}
	}
}
