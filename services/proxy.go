// ABOUTME: Portal egress, optionally tunnelled over SSH+SOCKS5 through a jump host
// ABOUTME: API calls and the login browser both leave from the jump host's address

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	proxy "github.com/cloudfoundry/socks5-proxy"

	"github.com/markalston/portal-gateway/models"
)

// jumpHost is a parsed PORTAL_ALL_PROXY value
type jumpHost struct {
	username string
	key      string
	addr     string
}

// parseJumpHost reads ssh+socks5://user@host:port?private-key=/path/to/key
func parseJumpHost(allProxy string) (*jumpHost, error) {
	proxyURL, err := url.Parse(strings.TrimPrefix(allProxy, "ssh+"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORTAL_ALL_PROXY URL: %w", err)
	}

	keyPath := proxyURL.Query().Get("private-key")
	if keyPath == "" {
		return nil, errors.New("PORTAL_ALL_PROXY missing required 'private-key' query param")
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH private key %s: %w", keyPath, err)
	}

	j := &jumpHost{key: string(key), addr: proxyURL.Host}
	if proxyURL.User != nil {
		j.username = proxyURL.User.Username()
	}
	return j, nil
}

// newPortalTransport builds the transport used by the portal client. When
// allProxy is set every connection is dialled through the SSH jump host.
func newPortalTransport(allProxy string) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSHandshakeTimeout = 30 * time.Second

	if allProxy != "" {
		if dial := createSOCKS5DialContextFunc(allProxy); dial != nil {
			transport.Proxy = nil
			transport.DialContext = dial
		}
	}
	return transport
}

// createSOCKS5DialContextFunc creates a dial function for SSH+SOCKS5 proxy connections.
func createSOCKS5DialContextFunc(allProxy string) func(ctx context.Context, network, address string) (net.Conn, error) {
	jump, err := parseJumpHost(allProxy)
	if err != nil {
		slog.Error("Portal proxy disabled", "error", err)
		return nil
	}

	socks5Proxy := proxy.NewSocks5Proxy(proxy.NewHostKey(), log.Default(), time.Minute)

	var (
		dialer proxy.DialFunc
		mu     sync.Mutex
	)

	return func(ctx context.Context, network, address string) (net.Conn, error) {
		mu.Lock()
		if dialer == nil {
			d, err := socks5Proxy.Dialer(jump.username, jump.key, jump.addr)
			if err != nil {
				mu.Unlock()
				return nil, fmt.Errorf("error creating SOCKS5 dialer: %w", err)
			}
			dialer = d
		}
		d := dialer
		mu.Unlock()
		return d(network, address)
	}
}

// browserProxy runs a local SOCKS5 listener tunnelled through the jump host
// for Chrome, which cannot speak SSH itself. The listener starts on first use
// and is shared by every login.
type browserProxy struct {
	jump  *jumpHost
	socks *proxy.Socks5Proxy
	mu    sync.Mutex
}

func newBrowserProxy(allProxy string) (*browserProxy, error) {
	jump, err := parseJumpHost(allProxy)
	if err != nil {
		return nil, err
	}
	return &browserProxy{
		jump:  jump,
		socks: proxy.NewSocks5Proxy(proxy.NewHostKey(), log.Default(), time.Minute),
	}, nil
}

// Server returns the proxy URL for Chrome's --proxy-server flag
func (p *browserProxy) Server() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.socks.Start(p.jump.username, p.jump.key, p.jump.addr); err != nil {
		return "", fmt.Errorf("%w: browser proxy: %v", models.ErrTransientNetwork, err)
	}
	addr, err := p.socks.Addr()
	if err != nil {
		return "", fmt.Errorf("%w: browser proxy: %v", models.ErrTransientNetwork, err)
	}
	return "socks5://" + addr, nil
}
