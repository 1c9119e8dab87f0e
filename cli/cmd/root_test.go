// ABOUTME: Tests for the root command and global flag handling
// ABOUTME: Verifies environment variable and flag configuration

package cmd

import (
	"os"
	"testing"
)

func TestGetAPIURL_Default(t *testing.T) {
	os.Unsetenv("PORTAL_GATEWAY_URL")
	apiURL = "" // Reset flag

	url := GetAPIURL()
	if url != "http://localhost:8080" {
		t.Errorf("expected default URL http://localhost:8080, got %s", url)
	}
}

func TestGetAPIURL_FromEnv(t *testing.T) {
	t.Setenv("PORTAL_GATEWAY_URL", "http://gateway.example.com")
	apiURL = "" // Reset flag

	url := GetAPIURL()
	if url != "http://gateway.example.com" {
		t.Errorf("expected http://gateway.example.com, got %s", url)
	}
}

func TestGetAPIURL_FlagOverridesEnv(t *testing.T) {
	t.Setenv("PORTAL_GATEWAY_URL", "http://gateway.example.com")
	apiURL = "http://flag-override.example.com"
	defer func() { apiURL = "" }()

	url := GetAPIURL()
	if url != "http://flag-override.example.com" {
		t.Errorf("expected flag to override env, got %s", url)
	}
}

func TestGetAPIKey(t *testing.T) {
	t.Setenv("PORTAL_GATEWAY_API_KEY", "from-env")
	apiKey = ""
	if got := GetAPIKey(); got != "from-env" {
		t.Errorf("expected key from env, got %s", got)
	}

	apiKey = "from-flag"
	defer func() { apiKey = "" }()
	if got := GetAPIKey(); got != "from-flag" {
		t.Errorf("expected flag to override env, got %s", got)
	}
}

func TestJSONOutput(t *testing.T) {
	jsonOutput = true
	defer func() { jsonOutput = false }()

	if !IsJSONOutput() {
		t.Error("expected IsJSONOutput to return true")
	}
}
