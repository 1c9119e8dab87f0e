// ABOUTME: Configuration loader for the portal gateway
// ABOUTME: Loads settings from .env and environment variables with defaults

package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session store backends
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Refresh payload schemes. "pair" sends the refresh token together with the
// current access token; "legacy" sends the refresh token alone.
const (
	RefreshSchemePair   = "pair"
	RefreshSchemeLegacy = "legacy"
)

type Config struct {
	// Server
	Port               string
	AuthMode           string         // required, disabled (default: required)
	OperatorAPIKey     string         // bearer key for operator endpoints
	CORSAllowedOrigins []string       // allowed CORS origins (empty = block all cross-origin)
	TrustedProxies     []netip.Prefix // peers whose X-Forwarded-For is honored (empty = none)

	// Portal
	PortalBaseURL       string // consumer web portal (browser automation target)
	PortalAPIURL        string // portal internal API base
	PortalLoginPath     string
	PortalRefreshScheme string
	PortalAllProxy      string // optional ssh+socks5://user@host:port?private-key=/path
	PortalTimeout       time.Duration
	PortalHeadless      bool
	PortalBotCookie     string
	PortalBotWait       time.Duration

	// Sessions
	SessionTTL   time.Duration
	SessionStore string
	SessionDir   string
	DatabaseURL  string
	RedisURL     string

	// Login orchestration
	LoginStartTimeout  time.Duration
	LoginPhaseTimeout  time.Duration
	LoginSweepInterval time.Duration

	// Security gateway
	RateLimitEnabled      bool
	RateLimitLogin        int
	RateLimitDefault      int
	RateLimitWindow       time.Duration
	LockoutThreshold      int
	LockoutWindow         time.Duration
	LockoutDuration       time.Duration
	SecureSessionTTL      time.Duration
	CSRFTokenTTL          time.Duration
	BlockSuspiciousAgents bool

	// Sync scheduler
	SyncEnabled     bool
	SyncInterval    time.Duration
	SyncDownloadPDF bool
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present; real environment variables take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		AuthMode:           getEnv("AUTH_MODE", "required"),
		OperatorAPIKey:     os.Getenv("OPERATOR_API_KEY"),
		CORSAllowedOrigins: getEnvStringList("CORS_ALLOWED_ORIGINS"),

		PortalBaseURL:       ensureScheme(os.Getenv("PORTAL_BASE_URL")),
		PortalAPIURL:        ensureScheme(os.Getenv("PORTAL_API_URL")),
		PortalLoginPath:     getEnv("PORTAL_LOGIN_PATH", "/login"),
		PortalRefreshScheme: getEnv("PORTAL_REFRESH_SCHEME", RefreshSchemePair),
		PortalAllProxy:      os.Getenv("PORTAL_ALL_PROXY"),
		PortalTimeout:       getEnvDuration("PORTAL_TIMEOUT", 30*time.Second),
		PortalHeadless:      getEnvBool("PORTAL_HEADLESS", false),
		PortalBotCookie:     getEnv("PORTAL_BOT_COOKIE", "_abck"),
		PortalBotWait:       getEnvDuration("PORTAL_BOT_WAIT", 20*time.Second),

		SessionTTL:   getEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionStore: getEnv("SESSION_STORE", StoreFile),
		SessionDir:   getEnv("SESSION_DIR", "./sessions"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),

		LoginStartTimeout:  getEnvDuration("LOGIN_START_TIMEOUT", 90*time.Second),
		LoginPhaseTimeout:  getEnvDuration("LOGIN_PHASE_TIMEOUT", 5*time.Minute),
		LoginSweepInterval: getEnvDuration("LOGIN_SWEEP_INTERVAL", time.Minute),

		RateLimitEnabled:      getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitLogin:        getEnvInt("RATE_LIMIT_LOGIN", 20),
		RateLimitDefault:      getEnvInt("RATE_LIMIT_DEFAULT", 100),
		RateLimitWindow:       getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		LockoutThreshold:      getEnvInt("LOCKOUT_THRESHOLD", 5),
		LockoutWindow:         getEnvDuration("LOCKOUT_WINDOW", 15*time.Minute),
		LockoutDuration:       getEnvDuration("LOCKOUT_DURATION", time.Hour),
		SecureSessionTTL:      getEnvDuration("SECURE_SESSION_TTL", 15*time.Minute),
		CSRFTokenTTL:          getEnvDuration("CSRF_TOKEN_TTL", 10*time.Minute),
		BlockSuspiciousAgents: getEnvBool("BLOCK_SUSPICIOUS_AGENTS", true),

		SyncEnabled:     getEnvBool("SYNC_ENABLED", true),
		SyncInterval:    getEnvDuration("SYNC_INTERVAL", 10*time.Minute),
		SyncDownloadPDF: getEnvBool("SYNC_DOWNLOAD_PDF", true),
	}

	proxies, err := parseTrustedProxies(getEnvStringList("TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseTrustedProxies accepts CIDRs ("10.0.0.0/8") and bare addresses, which
// are treated as single-host prefixes.
func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.PortalBaseURL == "" {
		return fmt.Errorf("PORTAL_BASE_URL is required")
	}
	if c.PortalAPIURL == "" {
		return fmt.Errorf("PORTAL_API_URL is required")
	}

	switch c.AuthMode {
	case "required", "disabled":
	default:
		return fmt.Errorf("invalid AUTH_MODE: %q (must be required or disabled)", c.AuthMode)
	}

	switch c.PortalRefreshScheme {
	case RefreshSchemePair, RefreshSchemeLegacy:
	default:
		return fmt.Errorf("invalid PORTAL_REFRESH_SCHEME: %q (must be pair or legacy)", c.PortalRefreshScheme)
	}

	switch c.SessionStore {
	case StoreMemory, StoreFile:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_STORE=postgres")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("invalid SESSION_STORE: %q (must be memory, file, postgres, or redis)", c.SessionStore)
	}

	for _, rl := range []struct {
		name  string
		value int
	}{
		{"RATE_LIMIT_LOGIN", c.RateLimitLogin},
		{"RATE_LIMIT_DEFAULT", c.RateLimitDefault},
		{"LOCKOUT_THRESHOLD", c.LockoutThreshold},
	} {
		if rl.value < 1 || rl.value > 10000 {
			return fmt.Errorf("%s must be between 1 and 10000, got %d", rl.name, rl.value)
		}
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"PORTAL_TIMEOUT", c.PortalTimeout},
		{"SESSION_TTL", c.SessionTTL},
		{"LOGIN_START_TIMEOUT", c.LoginStartTimeout},
		{"LOGIN_PHASE_TIMEOUT", c.LoginPhaseTimeout},
		{"LOGIN_SWEEP_INTERVAL", c.LoginSweepInterval},
		{"RATE_LIMIT_WINDOW", c.RateLimitWindow},
		{"LOCKOUT_WINDOW", c.LockoutWindow},
		{"LOCKOUT_DURATION", c.LockoutDuration},
		{"SECURE_SESSION_TTL", c.SecureSessionTTL},
		{"CSRF_TOKEN_TTL", c.CSRFTokenTTL},
		{"SYNC_INTERVAL", c.SyncInterval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %s", d.name, d.value)
		}
	}

	return nil
}

// OperatorAuthDisabled reports whether operator endpoints skip the API key check
func (c *Config) OperatorAuthDisabled() bool {
	return c.AuthMode == "disabled"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s", "10m") or bare seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvStringList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ensureScheme adds https:// prefix if the URL has no scheme
func ensureScheme(url string) string {
	if url == "" {
		return url
	}
	if !strings.Contains(url, "://") {
		return "https://" + url
	}
	return strings.TrimRight(url, "/")
}
