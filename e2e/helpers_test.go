// ABOUTME: Test helpers for e2e tests
// ABOUTME: Builds the full gateway behind httptest with a fake portal API and scripted browser automation

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/markalston/portal-gateway/config"
	"github.com/markalston/portal-gateway/handlers"
	"github.com/markalston/portal-gateway/middleware"
	"github.com/markalston/portal-gateway/models"
	"github.com/markalston/portal-gateway/repository"
	"github.com/markalston/portal-gateway/services"
	"github.com/markalston/portal-gateway/store"
)

const (
	browserUA   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	operatorKey = "e2e-operator-key"
	smsCode     = "482913"
)

// withTestPortalEnv sets the portal environment variables plus additional vars,
// returning a cleanup function that restores all original values.
//
// Example:
//
//	func TestSomething(t *testing.T) {
//	    t.Cleanup(withTestPortalEnv(t, map[string]string{
//	        "CORS_ALLOWED_ORIGINS": "https://example.com",
//	    }))
//	}
func withTestPortalEnv(t *testing.T, extra map[string]string) func() {
	t.Helper()

	vars := map[string]string{
		"PORTAL_BASE_URL": "https://portal.example.com",
		"PORTAL_API_URL":  "https://api.portal.example.com",
		"SESSION_STORE":   "memory",
	}
	for key, value := range extra {
		vars[key] = value
	}

	originals := make(map[string]*string, len(vars))
	for key := range vars {
		if v, ok := os.LookupEnv(key); ok {
			originals[key] = &v
		} else {
			originals[key] = nil
		}
	}
	for key, value := range vars {
		os.Setenv(key, value)
	}

	return func() {
		for key, value := range originals {
			if value == nil {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, *value)
			}
		}
	}
}

// fakePortal is the portal's internal API. Only tokens it issued are accepted;
// rotating through /auth/refresh invalidates the previous access token.
type fakePortal struct {
	mu        sync.Mutex
	valid     map[string]bool
	refresh   map[string]bool
	next      int
	refreshes atomic.Int32
	// rejectAll answers 401 to everything except /auth/refresh
	rejectAll atomic.Bool
}

func newFakePortal() *fakePortal {
	return &fakePortal{valid: make(map[string]bool), refresh: make(map[string]bool)}
}

// issue mints a token pair as the portal would after a browser login
func (p *fakePortal) issue() *models.TokenSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	ts := &models.TokenSet{
		AccessToken:  "access-" + strconv.Itoa(p.next),
		RefreshToken: "refresh-" + strconv.Itoa(p.next),
	}
	p.valid[ts.AccessToken] = true
	p.refresh[ts.RefreshToken] = true
	return ts
}

func (p *fakePortal) revoke(access string) {
	p.mu.Lock()
	delete(p.valid, access)
	p.mu.Unlock()
}

func (p *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/auth/refresh" {
		p.refreshes.Add(1)
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		ok := p.refresh[body.RefreshToken]
		delete(p.refresh, body.RefreshToken)
		p.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ts := p.issue()
		json.NewEncoder(w).Encode(map[string]string{"access_token": ts.AccessToken, "refresh_token": ts.RefreshToken})
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	p.mu.Lock()
	ok := p.valid[token]
	p.mu.Unlock()
	if !ok || p.rejectAll.Load() {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/units":
		w.Write([]byte(`{"units":[{"number":"5001","address":"Av. Central, 900","status":"active","generator":true},{"number":"5002","status":"active"}]}`))
	case "/units/5001", "/units/5002":
		unit := strings.TrimPrefix(r.URL.Path, "/units/")
		w.Write([]byte(`{"number":"` + unit + `","class":"commercial","voltage":"220V","beneficiaries":[{"number":"5002"}]}`))
	case "/units/5001/invoices", "/units/5002/invoices":
		w.Write([]byte(`{"invoices":[{"id":"f-1","reference_month":"2026-08","due_date":"2026-09-15","amount":310.2,"status":"open"}]}`))
	case "/units/5001/invoices/f-1/pdf", "/units/5002/invoices/f-1/pdf":
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.7"))
	case "/units/5001/credits", "/units/5002/credits":
		w.Write([]byte(`{"history":[{"month":"2026-08","generated":420,"consumed":380,"received":0,"balance":40}]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// scriptedAutomation completes a login with tokens minted by the fake portal
type scriptedAutomation struct {
	portal *fakePortal
}

func (a scriptedAutomation) Start(ctx context.Context, owner string) (services.AutomationSession, []string, error) {
	return &scriptedSession{portal: a.portal}, []string{"(21) *****-0042", "(21) *****-7788"}, nil
}

type scriptedSession struct {
	portal *fakePortal
	phone  string
}

func (s *scriptedSession) SelectPhone(ctx context.Context, phone string) error {
	s.phone = phone
	return nil
}

func (s *scriptedSession) SubmitCode(ctx context.Context, code string) (*models.TokenSet, error) {
	if code != smsCode {
		return nil, models.ValidationErrorf("invalid verification code")
	}
	return s.portal.issue(), nil
}

func (s *scriptedSession) Close() error { return nil }

// gateway is a running gateway plus handles on its internals
type gateway struct {
	server    *httptest.Server
	portal    *fakePortal
	cfg       *config.Config
	store     store.Store
	repo      repository.Repository
	security  *services.SecurityGateway
	scheduler *services.SyncScheduler
}

// newGatewayConfig trusts loopback as the reverse proxy, so each browser's
// X-Forwarded-For stands in for its public address.
func newGatewayConfig(portalURL string) *config.Config {
	return &config.Config{
		TrustedProxies: []netip.Prefix{
			netip.MustParsePrefix("127.0.0.0/8"),
			netip.MustParsePrefix("::1/128"),
		},
		AuthMode:              "required",
		OperatorAPIKey:        operatorKey,
		PortalAPIURL:          portalURL,
		PortalRefreshScheme:   config.RefreshSchemePair,
		PortalTimeout:         5 * time.Second,
		SessionStore:          config.StoreMemory,
		SessionTTL:            time.Hour,
		LoginStartTimeout:     2 * time.Second,
		LoginPhaseTimeout:     2 * time.Second,
		RateLimitEnabled:      true,
		RateLimitLogin:        20,
		RateLimitDefault:      100,
		RateLimitWindow:       time.Minute,
		LockoutThreshold:      5,
		LockoutWindow:         15 * time.Minute,
		LockoutDuration:       time.Hour,
		SecureSessionTTL:      15 * time.Minute,
		CSRFTokenTTL:          10 * time.Minute,
		BlockSuspiciousAgents: true,
		SyncInterval:          time.Hour,
		SyncDownloadPDF:       true,
	}
}

// startGateway wires the gateway the way main does, with fakes at the edges
func startGateway(t *testing.T, tweak func(*config.Config)) *gateway {
	t.Helper()

	portal := newFakePortal()
	portalSrv := httptest.NewServer(portal)
	t.Cleanup(portalSrv.Close)

	cfg := newGatewayConfig(portalSrv.URL)
	if tweak != nil {
		tweak(cfg)
	}

	sessions, err := store.New(cfg, store.Backends{})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	repo := repository.New(nil)
	locks := services.NewOwnerLocks()
	client := services.NewPortalClient(cfg, sessions, locks)
	login := services.NewLoginOrchestrator(scriptedAutomation{portal: portal}, sessions, locks, cfg.LoginStartTimeout, cfg.LoginPhaseTimeout)
	security := services.NewSecurityGateway(cfg)
	scheduler := services.NewSyncScheduler(client, sessions, repo, cfg.SyncInterval, cfg.SyncDownloadPDF)

	h := handlers.NewHandler(cfg, handlers.Deps{
		Store:     sessions,
		Login:     login,
		Gateway:   security,
		Portal:    client,
		Repo:      repo,
		Scheduler: scheduler,
	})
	srv := httptest.NewServer(h.NewMux(handlers.Stacks(cfg, security)))
	t.Cleanup(func() {
		srv.Close()
		scheduler.Stop()
		login.Shutdown(context.Background())
	})

	return &gateway{
		server:    srv,
		portal:    portal,
		cfg:       cfg,
		store:     sessions,
		repo:      repo,
		security:  security,
		scheduler: scheduler,
	}
}

// browser is one end user at a fixed IP walking through the login flow
type browser struct {
	t        *testing.T
	gw       *gateway
	ip       string
	secureID string
	csrf     string
}

func (gw *gateway) browser(t *testing.T, ip string) *browser {
	return &browser{t: t, gw: gw, ip: ip}
}

func (b *browser) do(method, path string, body any) (*http.Response, []byte) {
	b.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, _ := json.Marshal(body)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, b.gw.server.URL+path, reader)
	if err != nil {
		b.t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("X-Forwarded-For", b.ip)
	if b.secureID != "" {
		req.Header.Set(middleware.SecureSessionHeader, b.secureID)
	}
	if b.csrf != "" {
		req.Header.Set(middleware.CSRFHeader, b.csrf)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	if next := resp.Header.Get(middleware.CSRFHeader); next != "" {
		b.csrf = next
	}
	return resp, out.Bytes()
}

func (b *browser) start(owner string) models.LoginStartResponse {
	b.t.Helper()
	resp, body := b.do(http.MethodPost, "/api/v1/login/start", models.LoginStartRequest{OwnerIdentifier: owner})
	if resp.StatusCode != http.StatusOK {
		b.t.Fatalf("login start: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var out models.LoginStartResponse
	if err := json.Unmarshal(body, &out); err != nil {
		b.t.Fatalf("Failed to decode login start: %v", err)
	}
	b.secureID = out.SecureID
	b.csrf = out.CSRFToken
	return out
}

// operator calls an operator endpoint with the API key
func (gw *gateway) operator(t *testing.T, method, path string, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, gw.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+operatorKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}
