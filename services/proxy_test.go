package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/markalston/portal-gateway/config"
)

func TestCreateSOCKS5DialContextFunc_InvalidInputs(t *testing.T) {
	tests := []struct {
		name     string
		allProxy string
	}{
		{"missing private key", "ssh+socks5://jump@10.0.0.1:22"},
		{"unreadable key file", "ssh+socks5://jump@10.0.0.1:22?private-key=/nonexistent/key"},
		{"bad url", "ssh+socks5://%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if fn := createSOCKS5DialContextFunc(tt.allProxy); fn != nil {
				t.Error("Expected nil dial func")
			}
		})
	}
}

func TestCreateSOCKS5DialContextFunc_ValidKeyPath(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_rsa")
	if err := os.WriteFile(keyPath, []byte("not-a-real-key"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	fn := createSOCKS5DialContextFunc("ssh+socks5://jump@10.0.0.1:22?private-key=" + keyPath)
	if fn == nil {
		t.Fatal("Expected dial func for readable key")
	}
}

func TestNewPortalTransport_NoProxy(t *testing.T) {
	tr := newPortalTransport("")
	if tr.DialContext == nil {
		t.Error("Expected default dialer to be kept")
	}
}

func TestParseJumpHost(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_rsa")
	if err := os.WriteFile(keyPath, []byte("key-bytes"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	jump, err := parseJumpHost("ssh+socks5://jump@10.0.0.1:22?private-key=" + keyPath)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if jump.username != "jump" || jump.addr != "10.0.0.1:22" || jump.key != "key-bytes" {
		t.Errorf("Unexpected jump host: %+v", jump)
	}
}

func TestNewChromeAutomation_SharesJumpHost(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_rsa")
	if err := os.WriteFile(keyPath, []byte("key-bytes"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	a := NewChromeAutomation(&config.Config{
		PortalAllProxy: "ssh+socks5://jump@10.0.0.1:22?private-key=" + keyPath,
	}, DefaultPortalPage())
	if a.proxyErr != nil || a.proxy == nil {
		t.Fatalf("Expected browser proxy, got err %v", a.proxyErr)
	}
	if a.proxy.jump.addr != "10.0.0.1:22" {
		t.Errorf("Expected browser to use jump host 10.0.0.1:22, got %s", a.proxy.jump.addr)
	}
}
