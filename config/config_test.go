package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig_RequiredFields(t *testing.T) {
	t.Cleanup(withCleanPortalEnv(t))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.PortalBaseURL != "https://portal.test.com" {
		t.Errorf("Expected PortalBaseURL https://portal.test.com, got %s", cfg.PortalBaseURL)
	}
	if cfg.PortalAPIURL != "https://api.portal.test.com" {
		t.Errorf("Expected PortalAPIURL https://api.portal.test.com, got %s", cfg.PortalAPIURL)
	}
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	t.Cleanup(withCleanPortalEnv(t))
	os.Unsetenv("PORTAL_API_URL")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for missing required fields, got nil")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Cleanup(withCleanPortalEnv(t))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("Expected default session TTL 24h, got %s", cfg.SessionTTL)
	}
	if cfg.SyncInterval != 10*time.Minute {
		t.Errorf("Expected default sync interval 10m, got %s", cfg.SyncInterval)
	}
	if cfg.RateLimitLogin != 20 || cfg.RateLimitWindow != time.Minute {
		t.Errorf("Expected login rate limit 20/1m, got %d/%s", cfg.RateLimitLogin, cfg.RateLimitWindow)
	}
	if cfg.LoginPhaseTimeout != 5*time.Minute {
		t.Errorf("Expected phase timeout 5m, got %s", cfg.LoginPhaseTimeout)
	}
	if cfg.PortalRefreshScheme != RefreshSchemePair {
		t.Errorf("Expected refresh scheme pair, got %s", cfg.PortalRefreshScheme)
	}
	if cfg.SessionStore != StoreFile {
		t.Errorf("Expected file session store, got %s", cfg.SessionStore)
	}
	if cfg.PortalHeadless {
		t.Error("Expected headful browser by default")
	}
}

func TestLoadConfig_DurationFormats(t *testing.T) {
	t.Cleanup(withCleanPortalEnvAndExtra(t, map[string]string{
		"SYNC_INTERVAL": "90s",
		"SESSION_TTL":   "3600",
	}))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.SyncInterval != 90*time.Second {
		t.Errorf("Expected sync interval 90s, got %s", cfg.SyncInterval)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("Expected session TTL 1h from bare seconds, got %s", cfg.SessionTTL)
	}
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		extra map[string]string
	}{
		{"rate limit zero", map[string]string{"RATE_LIMIT_LOGIN": "0"}},
		{"rate limit too high", map[string]string{"RATE_LIMIT_DEFAULT": "10001"}},
		{"unknown store", map[string]string{"SESSION_STORE": "etcd"}},
		{"postgres without dsn", map[string]string{"SESSION_STORE": "postgres"}},
		{"redis without url", map[string]string{"SESSION_STORE": "redis"}},
		{"unknown refresh scheme", map[string]string{"PORTAL_REFRESH_SCHEME": "v3"}},
		{"unknown auth mode", map[string]string{"AUTH_MODE": "optional"}},
		{"negative duration", map[string]string{"LOCKOUT_WINDOW": "-5m"}},
		{"bad trusted proxy", map[string]string{"TRUSTED_PROXIES": "10.0.0.0/33"}},
		{"trusted proxy hostname", map[string]string{"TRUSTED_PROXIES": "lb.internal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(withCleanPortalEnvAndExtra(t, tt.extra))

			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %v", tt.extra)
			}
		})
	}
}

func TestLoadConfig_TrustedProxies(t *testing.T) {
	t.Cleanup(withCleanPortalEnvAndExtra(t, map[string]string{
		"TRUSTED_PROXIES": "10.1.2.3/8, 192.0.2.10, ::1",
	}))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := []string{"10.0.0.0/8", "192.0.2.10/32", "::1/128"}
	if len(cfg.TrustedProxies) != len(want) {
		t.Fatalf("Expected %d trusted proxies, got %v", len(want), cfg.TrustedProxies)
	}
	for i, p := range cfg.TrustedProxies {
		if p.String() != want[i] {
			t.Errorf("Expected trusted proxy %s, got %s", want[i], p)
		}
	}
}

func TestLoadConfig_NoTrustedProxiesByDefault(t *testing.T) {
	t.Cleanup(withCleanPortalEnv(t))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Errorf("Expected no trusted proxies, got %v", cfg.TrustedProxies)
	}
}

func TestEnsureScheme(t *testing.T) {
	tests := map[string]string{
		"":                        "",
		"portal.example.com":      "https://portal.example.com",
		"http://localhost:9000/":  "http://localhost:9000",
		"https://api.example.com": "https://api.example.com",
	}
	for in, want := range tests {
		if got := ensureScheme(in); got != want {
			t.Errorf("ensureScheme(%q) = %q, want %q", in, got, want)
		}
	}
}
