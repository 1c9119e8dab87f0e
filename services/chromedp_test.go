package services

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/markalston/portal-gateway/config"
)

func TestParsePhoneList(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"bare strings", `["(11) *****-1234", " ", "(21) *****-9876"]`, []string{"(11) *****-1234", "(21) *****-9876"}},
		{"wrapped strings", `{"phones":["1234"]}`, []string{"1234"}},
		{"objects", `[{"masked":"(11) *****-1234"},{"number":"5678"},{"other":"x"}]`, []string{"(11) *****-1234", "5678"}},
		{"wrapped objects", `{"phones":[{"phone":"9999"}]}`, []string{"9999"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePhoneList([]byte(tt.body))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %q at %d, got %q", tt.want[i], i, got[i])
				}
			}
		})
	}
}

func TestParsePhoneList_Invalid(t *testing.T) {
	if _, err := parsePhoneList([]byte(`{"phones": 42}`)); err == nil {
		t.Error("Expected error for unrecognised shape")
	}
}

func TestIsBlockPage(t *testing.T) {
	tests := []struct {
		title string
		text  string
		want  bool
	}{
		{"Access Denied", "", true},
		{"Portal", "Request unsuccessful. Incapsula incident ID: 123", true},
		{"Portal", "You don't have permission. Reference #18.abc", true},
		{"Login", "Informe seu CPF", false},
	}

	for _, tt := range tests {
		if got := isBlockPage(tt.title, tt.text); got != tt.want {
			t.Errorf("isBlockPage(%q, %q): expected %v, got %v", tt.title, tt.text, tt.want, got)
		}
	}
}

func TestBotCookieValidated(t *testing.T) {
	if !botCookieValidated("ABC~0~YAAQ~-1~") {
		t.Error("Expected validated marker to be recognised")
	}
	if botCookieValidated("ABC~-1~YAAQ~-1~") {
		t.Error("Expected unvalidated cookie to be rejected")
	}
}

func TestExtractTokens(t *testing.T) {
	page := DefaultPortalPage()
	storage := map[string]string{
		"access_token": `"eyJ.access"`,
		"device_id":    "dev-42",
	}
	cookies := map[string]string{
		"refresh_token": "refresh-cookie",
		"access_token":  "ignored",
		"client_key":    "ck",
	}

	tokens := extractTokens(page, storage, cookies)
	if tokens.AccessToken != "eyJ.access" {
		t.Errorf("Expected storage access token unquoted, got %q", tokens.AccessToken)
	}
	if tokens.RefreshToken != "refresh-cookie" {
		t.Errorf("Expected cookie refresh token, got %q", tokens.RefreshToken)
	}
	if tokens.DeviceKeys["X-Device-Id"] != "dev-42" || tokens.DeviceKeys["X-Client-Key"] != "ck" {
		t.Errorf("Unexpected device keys: %v", tokens.DeviceKeys)
	}
}

func TestNewChromeAutomation_LoginURL(t *testing.T) {
	cfg := &config.Config{
		PortalBaseURL:   "https://portal.example.com",
		PortalLoginPath: "/login",
		PortalBotCookie: "_abck",
		PortalBotWait:   time.Second,
	}
	a := NewChromeAutomation(cfg, DefaultPortalPage())
	if a.loginURL != "https://portal.example.com/login" {
		t.Errorf("Expected joined login url, got %s", a.loginURL)
	}
	if a.headless {
		t.Error("Expected headful browser by default")
	}
}

func TestChromeAutomation_DirectEgressWithoutProxy(t *testing.T) {
	a := NewChromeAutomation(&config.Config{PortalBaseURL: "https://portal.example.com"}, DefaultPortalPage())

	opts, err := a.allocatorOptions()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if want := len(chromedp.DefaultExecAllocatorOptions) + 3; len(opts) != want {
		t.Errorf("Expected %d allocator options, got %d", want, len(opts))
	}
}

func TestChromeAutomation_MisconfiguredProxyFailsStart(t *testing.T) {
	cfg := &config.Config{
		PortalBaseURL:  "https://portal.example.com",
		PortalAllProxy: "ssh+socks5://jump@10.0.0.1:22",
	}
	a := NewChromeAutomation(cfg, DefaultPortalPage())
	if a.proxyErr == nil {
		t.Fatal("Expected proxy error for a proxy without a private key")
	}

	session, phones, err := a.Start(context.Background(), "12345678900")
	if err == nil || session != nil || phones != nil {
		t.Errorf("Expected Start to fail before launching a browser, got %v %v %v", session, phones, err)
	}
}
