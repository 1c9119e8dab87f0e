// ABOUTME: Security gateway state shared by the public login surface
// ABOUTME: IP block list, failed-auth lockout, secure session bindings, and user-agent heuristics

package services

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/markalston/portal-gateway/cache"
	"github.com/markalston/portal-gateway/config"
	"github.com/markalston/portal-gateway/models"
)

// scannerAgents are user-agent fragments of common scanners and scripted clients
var scannerAgents = []string{
	"sqlmap", "nikto", "nmap", "masscan", "zgrab", "nuclei", "dirbuster",
	"gobuster", "wpscan", "acunetix", "nessus", "openvas", "python-requests",
	"libwww-perl", "scrapy", "headlesschrome", "phantomjs",
}

// SecurityGateway tracks per-IP security state. Each table is guarded by its
// own lock; no operation holds more than one.
type SecurityGateway struct {
	sessions        *SecureSessions
	threshold       int
	window          time.Duration
	lockout         time.Duration
	blockSuspicious bool
	now             func() time.Time

	mu       sync.Mutex
	failures map[string][]time.Time
	blocked  map[string]models.BlockedIP
}

// NewSecurityGateway creates a gateway from the security settings in cfg
func NewSecurityGateway(cfg *config.Config) *SecurityGateway {
	return &SecurityGateway{
		sessions:        NewSecureSessions(cache.New(cfg.SecureSessionTTL), cfg.SecureSessionTTL, cfg.CSRFTokenTTL),
		threshold:       cfg.LockoutThreshold,
		window:          cfg.LockoutWindow,
		lockout:         cfg.LockoutDuration,
		blockSuspicious: cfg.BlockSuspiciousAgents,
		now:             time.Now,
		failures:        make(map[string][]time.Time),
		blocked:         make(map[string]models.BlockedIP),
	}
}

// SetClock replaces the time source, for tests
func (g *SecurityGateway) SetClock(now func() time.Time) {
	g.now = now
	g.sessions.SetClock(now)
}

// Sessions exposes the binding and CSRF store
func (g *SecurityGateway) Sessions() *SecureSessions {
	return g.sessions
}

// IsBlocked reports whether ip is on the block list. Entries with an
// expired Until are removed on read.
func (g *SecurityGateway) IsBlocked(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.blocked[ip]
	if !ok {
		return false
	}
	if entry.Until != nil && !g.now().Before(*entry.Until) {
		delete(g.blocked, ip)
		slog.Info("IP block expired", "ip", ip)
		return false
	}
	return true
}

// Block adds ip to the block list. A zero duration blocks until Unblock.
func (g *SecurityGateway) Block(ip, reason string, d time.Duration) {
	now := g.now()
	entry := models.BlockedIP{IP: ip, Reason: reason, BlockedAt: now}
	if d > 0 {
		until := now.Add(d)
		entry.Until = &until
	}
	g.mu.Lock()
	g.blocked[ip] = entry
	delete(g.failures, ip)
	g.mu.Unlock()
	slog.Warn("IP blocked", "ip", ip, "reason", reason, "duration", d)
}

// Unblock removes ip from the block list and clears its failure history
func (g *SecurityGateway) Unblock(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.blocked[ip]
	delete(g.blocked, ip)
	delete(g.failures, ip)
	if ok {
		slog.Info("IP unblocked", "ip", ip)
	}
	return ok
}

// Blocked lists current block entries ordered by block time
func (g *SecurityGateway) Blocked() []models.BlockedIP {
	g.mu.Lock()
	now := g.now()
	out := make([]models.BlockedIP, 0, len(g.blocked))
	for ip, entry := range g.blocked {
		if entry.Until != nil && !now.Before(*entry.Until) {
			delete(g.blocked, ip)
			continue
		}
		out = append(out, entry)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockedAt.Equal(out[j].BlockedAt) {
			return out[i].IP < out[j].IP
		}
		return out[i].BlockedAt.Before(out[j].BlockedAt)
	})
	return out
}

// RecordFailure notes a failed authentication from ip. Reaching the
// threshold within the window blocks the ip for the lockout duration and
// returns true.
func (g *SecurityGateway) RecordFailure(ip string) bool {
	now := g.now()
	cutoff := now.Add(-g.window)

	g.mu.Lock()
	recent := g.failures[ip][:0]
	for _, ts := range g.failures[ip] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	g.failures[ip] = recent
	locked := len(recent) >= g.threshold
	g.mu.Unlock()

	if locked {
		g.Block(ip, "too many failed authentications", g.lockout)
	}
	return locked
}

// Failures returns the failed authentications from ip still inside the window
func (g *SecurityGateway) Failures(ip string) models.AuthFailureRecord {
	cutoff := g.now().Add(-g.window)
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := models.AuthFailureRecord{IP: ip}
	for _, ts := range g.failures[ip] {
		if ts.After(cutoff) {
			rec.Failures = append(rec.Failures, ts)
		}
	}
	return rec
}

// CreateBinding issues a secure id bound to ip for a login transaction
func (g *SecurityGateway) CreateBinding(ip, txID, owner string) (*models.SecureSessionBinding, error) {
	return g.sessions.Create(ip, txID, owner)
}

// ValidateBinding checks secureID against the presenting ip. On mismatch the
// binding is destroyed and the presenting ip blocked.
func (g *SecurityGateway) ValidateBinding(secureID, ip string) (models.SecureSessionBinding, error) {
	b, err := g.sessions.Use(secureID, ip)
	if errors.Is(err, models.ErrSessionHijackSuspected) {
		slog.Warn("Secure session presented from foreign IP",
			"bound_ip", b.BoundIP, "presenting_ip", ip, "transaction_id", b.TransactionID)
		g.Block(ip, "secure session hijack suspected", 0)
	}
	return b, err
}

// RevokeBinding drops a binding once its login finished
func (g *SecurityGateway) RevokeBinding(secureID string) {
	g.sessions.Revoke(secureID)
}

// IssueCSRF creates a one-time token for ip and the secure session
func (g *SecurityGateway) IssueCSRF(ip, secureID string) (string, error) {
	return g.sessions.IssueCSRF(ip, secureID)
}

// ConsumeCSRF spends token. Rejections count as failed authentications.
func (g *SecurityGateway) ConsumeCSRF(token, ip, secureID string) error {
	if err := g.sessions.ConsumeCSRF(token, ip, secureID); err != nil {
		slog.Warn("CSRF token rejected", "ip", ip)
		g.RecordFailure(ip)
		return err
	}
	return nil
}

// CheckAgent applies user-agent heuristics. It returns a non-empty reason for
// a suspicious agent and reports whether the request must be rejected.
func (g *SecurityGateway) CheckAgent(ua string) (reason string, reject bool) {
	reason = suspiciousAgent(ua)
	if reason == "" {
		return "", false
	}
	return reason, g.blockSuspicious
}

// Stats returns the number of blocked ips and live bindings
func (g *SecurityGateway) Stats() (blocked, bindings int) {
	return len(g.Blocked()), g.sessions.Count()
}

func suspiciousAgent(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return "missing user agent"
	}
	lower := strings.ToLower(ua)
	for _, marker := range scannerAgents {
		if strings.Contains(lower, marker) {
			return "known scanner agent: " + marker
		}
	}
	return ""
}
