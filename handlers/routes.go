// ABOUTME: Declarative route table for API endpoints
// ABOUTME: Defines every route with its method, handler, and middleware tier

package handlers

import (
	"net/http"
	"time"

	"github.com/markalston/portal-gateway/config"
	"github.com/markalston/portal-gateway/middleware"
	"github.com/markalston/portal-gateway/services"
)

// Access selects the middleware stack a route is served behind
type Access int

const (
	// AccessOpen is audited only (health, docs)
	AccessOpen Access = iota
	// AccessPublic is the public login entry: heuristics, block list, rate limit
	AccessPublic
	// AccessSecure adds the IP-bound secure session and one-time CSRF token
	AccessSecure
	// AccessOperator requires the operator API key
	AccessOperator
)

// Route defines an API endpoint with its HTTP method and handler.
type Route struct {
	Method  string           // HTTP method (GET, POST, etc.)
	Path    string           // URL pattern (e.g., "/api/v1/resources/{unit}/invoices")
	Handler http.HandlerFunc // Handler function
	Access  Access
}

// Routes returns all API routes for registration.
func (h *Handler) Routes() []Route {
	return []Route{
		// Health & Docs
		{Method: http.MethodGet, Path: "/api/v1/health", Handler: h.Health, Access: AccessOpen},
		{Method: http.MethodGet, Path: "/api/v1/openapi.yaml", Handler: h.OpenAPISpec, Access: AccessOpen},

		// Login flow
		{Method: http.MethodPost, Path: "/api/v1/login/start", Handler: h.LoginStart, Access: AccessPublic},
		{Method: http.MethodPost, Path: "/api/v1/login/select-phone", Handler: h.LoginSelectPhone, Access: AccessSecure},
		{Method: http.MethodPost, Path: "/api/v1/login/verify-code", Handler: h.LoginVerifyCode, Access: AccessSecure},
		{Method: http.MethodGet, Path: "/api/v1/login/status", Handler: h.LoginStatus, Access: AccessSecure},

		// Resources
		{Method: http.MethodGet, Path: "/api/v1/resources", Handler: h.ListResources, Access: AccessOperator},
		{Method: http.MethodGet, Path: "/api/v1/resources/{unit}/invoices", Handler: h.ListInvoices, Access: AccessOperator},

		// Scheduler
		{Method: http.MethodGet, Path: "/api/v1/scheduler/status", Handler: h.SchedulerStatus, Access: AccessOperator},
		{Method: http.MethodPost, Path: "/api/v1/scheduler/start", Handler: h.SchedulerStart, Access: AccessOperator},
		{Method: http.MethodPost, Path: "/api/v1/scheduler/stop", Handler: h.SchedulerStop, Access: AccessOperator},
		{Method: http.MethodPost, Path: "/api/v1/sync", Handler: h.Sync, Access: AccessOperator},

		// Security admin
		{Method: http.MethodGet, Path: "/api/v1/security/blocked", Handler: h.ListBlocked, Access: AccessOperator},
		{Method: http.MethodPost, Path: "/api/v1/security/unblock", Handler: h.Unblock, Access: AccessOperator},
	}
}

// Stacks builds the middleware stack for each access tier from cfg
func Stacks(cfg *config.Config, g *services.SecurityGateway) map[Access]middleware.Stack {
	var loginLimiter, defaultLimiter *middleware.RateLimiter
	if cfg.RateLimitEnabled {
		loginLimiter = middleware.NewRateLimiter(cfg.RateLimitLogin, cfg.RateLimitWindow)
		defaultLimiter = middleware.NewRateLimiter(cfg.RateLimitDefault, cfg.RateLimitWindow)
	}
	return StacksWithLimiters(cfg, g, loginLimiter, defaultLimiter)
}

// StacksWithLimiters is Stacks with caller-supplied limiters. A nil limiter
// disables rate limiting for its tiers.
func StacksWithLimiters(cfg *config.Config, g *services.SecurityGateway, login, def *middleware.RateLimiter) map[Access]middleware.Stack {
	base := middleware.Stack{
		middleware.RealIP(cfg.TrustedProxies),
		middleware.AuditRequest,
		middleware.CORSWithConfig(cfg.CORSAllowedOrigins),
	}

	public := base.With(
		middleware.Heuristics(g),
		middleware.Blocklist(g),
		middleware.RateLimit(login, middleware.IPAndPath),
	)

	mode := middleware.AuthModeRequired
	if cfg.OperatorAuthDisabled() {
		mode = middleware.AuthModeDisabled
	}
	operator := base.With(
		middleware.Blocklist(g),
		middleware.RateLimit(def, middleware.IPKey),
		middleware.OperatorAuth(middleware.AuthConfig{Mode: mode, APIKey: cfg.OperatorAPIKey}),
	)

	return map[Access]middleware.Stack{
		AccessOpen:     base,
		AccessPublic:   public,
		AccessSecure:   public.With(middleware.SecureSession(g), middleware.CSRF(g)),
		AccessOperator: operator,
	}
}

// NewMux registers every route behind its tier's stack. Each path also
// answers OPTIONS so CORS preflight reaches the CORS middleware.
func (h *Handler) NewMux(stacks map[Access]middleware.Stack) *http.ServeMux {
	mux := http.NewServeMux()
	preflight := make(map[string]bool)
	for _, route := range h.Routes() {
		stack := stacks[route.Access]
		mux.HandleFunc(route.Method+" "+route.Path, stack.Then(route.Handler))
		if !preflight[route.Path] {
			preflight[route.Path] = true
			mux.HandleFunc(http.MethodOptions+" "+route.Path, stacks[AccessOpen].Then(noContent))
		}
	}
	return mux
}

func noContent(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// ServerTimeouts are applied to the HTTP server. WriteTimeout covers the
// login start wait for the portal's phone list.
func ServerTimeouts(cfg *config.Config) (read, write, idle time.Duration) {
	return 15 * time.Second, cfg.LoginStartTimeout + 30*time.Second, 120 * time.Second
}
