// ABOUTME: Client IP resolution honoring X-Forwarded-For only from trusted proxies
// ABOUTME: Every IP-keyed control (binding, CSRF, lockout, rate limit) reads the resolved address

package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const clientIPKey contextKey = "client_ip"

// RealIP resolves the caller's address once per request and stores it in the
// context for ClientIP. X-Forwarded-For is read only when the direct peer is
// inside trusted; the client is then the rightmost hop that is not itself a
// trusted proxy. With no trusted proxies the header is ignored.
func RealIP(trusted []netip.Prefix) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, trusted)
			next(w, r.WithContext(context.WithValue(r.Context(), clientIPKey, ip)))
		}
	}
}

// ClientIP returns the address resolved by RealIP, or the RemoteAddr host when
// the request did not pass through it.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok {
		return ip
	}
	return remoteHost(r)
}

func resolveClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := remoteHost(r)
	if len(trusted) == 0 {
		return peer
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil || !isTrustedProxy(addr.Unmap(), trusted) {
		return peer
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	// Walk from the nearest hop outward. A malformed entry stops the walk at
	// the last trusted hop, which is the most that can be vouched for.
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return peer
		}
		hop = hop.Unmap()
		if !isTrustedProxy(hop, trusted) {
			return hop.String()
		}
		peer = hop.String()
	}
	return peer
}

func isTrustedProxy(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// remoteHost strips the port from RemoteAddr
func remoteHost(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}
