// ABOUTME: Shared fixtures for middleware tests
// ABOUTME: Builds a security gateway with test thresholds

package middleware

import (
	"testing"
	"time"

	"github.com/markalston/portal-gateway/config"
	"github.com/markalston/portal-gateway/services"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"

func newTestGateway(t *testing.T) *services.SecurityGateway {
	t.Helper()
	return services.NewSecurityGateway(&config.Config{
		LockoutThreshold:      3,
		LockoutWindow:         15 * time.Minute,
		LockoutDuration:       time.Hour,
		SecureSessionTTL:      15 * time.Minute,
		CSRFTokenTTL:          10 * time.Minute,
		BlockSuspiciousAgents: true,
	})
}
