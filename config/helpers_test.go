// ABOUTME: Test helpers for config tests
// ABOUTME: Provides utilities for environment variable management

package config

import (
	"os"
	"testing"
)

// withCleanPortalEnv clears the environment, sets the required portal env vars
// to test values, and returns a cleanup function that restores the original env.
// Use with t.Cleanup().
//
// Example:
//
//	func TestSomething(t *testing.T) {
//	    t.Cleanup(withCleanPortalEnv(t))
//	    // Environment is cleared, PORTAL_BASE_URL and PORTAL_API_URL are set
//	}
func withCleanPortalEnv(t *testing.T) func() {
	t.Helper()
	return withCleanPortalEnvAndExtra(t, nil)
}

// withCleanPortalEnvAndExtra clears the environment, sets required portal env
// vars plus additional vars, and returns a cleanup function that restores the
// original env. Use with t.Cleanup().
func withCleanPortalEnvAndExtra(t *testing.T, extra map[string]string) func() {
	t.Helper()

	// Save entire environment
	originalEnv := os.Environ()

	// Clear environment for clean slate
	os.Clearenv()

	os.Setenv("PORTAL_BASE_URL", "https://portal.test.com")
	os.Setenv("PORTAL_API_URL", "https://api.portal.test.com")

	for key, value := range extra {
		os.Setenv(key, value)
	}

	return func() {
		os.Clearenv()
		for _, env := range originalEnv {
			for i := 0; i < len(env); i++ {
				if env[i] == '=' {
					os.Setenv(env[:i], env[i+1:])
					break
				}
			}
		}
	}
}
