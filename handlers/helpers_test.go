// ABOUTME: Shared fixtures for handler tests
// ABOUTME: A canned portal API server, a scripted automation engine, and handler builders

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/markalston/portal-gateway/config"
	"github.com/markalston/portal-gateway/models"
	"github.com/markalston/portal-gateway/repository"
	"github.com/markalston/portal-gateway/services"
	"github.com/markalston/portal-gateway/store"
)

const testOwner = "12345678900"

// portalAPI serves a fixed owner with two units
type portalAPI struct {
	downloads atomic.Int32
}

func (p *portalAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/auth/refresh":
		json.NewEncoder(w).Encode(map[string]string{"access_token": "a2", "refresh_token": "r2"})
	case "/units":
		w.Write([]byte(`{"units":[{"number":"1001","address":"Rua A, 1","status":"active","generator":true},{"number":"1002"}]}`))
	case "/units/1001":
		w.Write([]byte(`{"number":"1001","address":"Rua A, 1","status":"active","generator":true,"class":"residential"}`))
	case "/units/1001/invoices":
		w.Write([]byte(`{"invoices":[{"id":"inv-1","reference_month":"2026-01","due_date":"2026-02-10","amount":123.45}]}`))
	case "/units/1001/invoices/inv-1/pdf":
		p.downloads.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 inv-1"))
	case "/units/1002/invoices":
		w.Write([]byte(`{"invoices":[{"id":"inv-2","reference_month":"2026-02","amount":10},{"id":"inv-3","reference_month":"2026-03","amount":20}]}`))
	case "/units/1002/invoices/inv-2/pdf", "/units/1002/invoices/inv-3/pdf":
		p.downloads.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 " + strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/units/1002/invoices/"), "/pdf")))
	case "/units/1001/credits":
		w.Write([]byte(`{"history":[{"month":"2026-01","generated":300,"consumed":200,"received":0,"balance":100}]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// scriptedAutomation lists one phone and accepts code "123456"
type scriptedAutomation struct{}

func (scriptedAutomation) Start(ctx context.Context, owner string) (services.AutomationSession, []string, error) {
	return &scriptedSession{}, []string{"(11) *****-1234"}, nil
}

type scriptedSession struct{}

func (s *scriptedSession) SelectPhone(ctx context.Context, phone string) error { return nil }

func (s *scriptedSession) SubmitCode(ctx context.Context, code string) (*models.TokenSet, error) {
	if code != "123456" {
		return nil, models.ValidationErrorf("code rejected by portal")
	}
	return &models.TokenSet{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil
}

func (s *scriptedSession) Close() error { return nil }

func testConfig(portalURL string) *config.Config {
	return &config.Config{
		AuthMode:            "disabled",
		PortalAPIURL:        portalURL,
		PortalRefreshScheme: config.RefreshSchemePair,
		PortalTimeout:       5 * time.Second,
		SessionTTL:          time.Hour,
		LoginStartTimeout:   time.Second,
		LoginPhaseTimeout:   time.Second,
		RateLimitLogin:      20,
		RateLimitDefault:    100,
		RateLimitWindow:     time.Minute,
		LockoutThreshold:    5,
		LockoutWindow:       15 * time.Minute,
		LockoutDuration:     time.Hour,
		SecureSessionTTL:    15 * time.Minute,
		CSRFTokenTTL:        10 * time.Minute,
		SyncInterval:        time.Hour,
	}
}

type testEnv struct {
	h      *Handler
	store  store.Store
	repo   *repository.MemoryRepository
	portal *portalAPI
	srv    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	api := &portalAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	s := store.NewMemoryStore(cfg.SessionTTL)
	repo := repository.NewMemoryRepository()
	locks := services.NewOwnerLocks()
	portal := services.NewPortalClient(cfg, s, locks)
	login := services.NewLoginOrchestrator(scriptedAutomation{}, s, locks, cfg.LoginStartTimeout, cfg.LoginPhaseTimeout)
	t.Cleanup(func() { login.Shutdown(context.Background()) })

	h := NewHandler(cfg, Deps{
		Store:     s,
		Login:     login,
		Gateway:   services.NewSecurityGateway(cfg),
		Portal:    portal,
		Repo:      repo,
		Scheduler: services.NewSyncScheduler(portal, s, repo, cfg.SyncInterval, true),
	})
	return &testEnv{h: h, store: s, repo: repo, portal: api, srv: srv}
}

func (e *testEnv) seedSession(t *testing.T) {
	t.Helper()
	if _, err := e.store.Save(context.Background(), testOwner, &models.TokenSet{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}
}

// countingRepo counts invoice listings served by the repository
type countingRepo struct {
	repository.Repository
	invoiceLists atomic.Int32
}

func (c *countingRepo) ListInvoices(ctx context.Context, owner, unit string, withDocuments bool) ([]models.Invoice, error) {
	c.invoiceLists.Add(1)
	return c.Repository.ListInvoices(ctx, owner, unit, withDocuments)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	return resp
}
