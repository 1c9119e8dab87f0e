// ABOUTME: IP-bound secure sessions and one-time CSRF tokens for the login flow
// ABOUTME: Stores bindings and tokens in the TTL cache keyed by their opaque ids

package services

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/markalston/portal-gateway/cache"
	"github.com/markalston/portal-gateway/models"
)

type csrfToken struct {
	ip       string
	secureID string
}

// SecureSessions issues and checks secure_id bindings and CSRF tokens
type SecureSessions struct {
	cache      *cache.Cache
	bindingTTL time.Duration
	csrfTTL    time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

// NewSecureSessions creates the binding store over c
func NewSecureSessions(c *cache.Cache, bindingTTL, csrfTTL time.Duration) *SecureSessions {
	return &SecureSessions{cache: c, bindingTTL: bindingTTL, csrfTTL: csrfTTL, now: time.Now}
}

// SetClock replaces the time source for the sessions and their cache
func (s *SecureSessions) SetClock(now func() time.Time) {
	s.now = now
	s.cache.SetClock(now)
}

// Create binds a new secure id to ip and the login transaction
func (s *SecureSessions) Create(ip, txID, owner string) (*models.SecureSessionBinding, error) {
	id, err := randomToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	b := &models.SecureSessionBinding{
		SecureID:      id,
		BoundIP:       ip,
		TransactionID: txID,
		OwnerKey:      owner,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.bindingTTL),
	}
	s.cache.SetWithTTL(bindingKey(id), b, s.bindingTTL)
	return b, nil
}

// Use validates secureID for ip and bumps its request counter. A binding
// presented from another ip is destroyed and ErrSessionHijackSuspected returned.
func (s *SecureSessions) Use(secureID, ip string) (models.SecureSessionBinding, error) {
	if secureID == "" {
		return models.SecureSessionBinding{}, models.ErrSecureSessionAbsent
	}
	val, ok := s.cache.Get(bindingKey(secureID))
	if !ok {
		return models.SecureSessionBinding{}, models.ErrSecureSessionAbsent
	}
	b := val.(*models.SecureSessionBinding)

	s.mu.Lock()
	defer s.mu.Unlock()
	if subtle.ConstantTimeCompare([]byte(b.BoundIP), []byte(ip)) != 1 {
		s.cache.Clear(bindingKey(secureID))
		return *b, models.ErrSessionHijackSuspected
	}
	if !s.now().Before(b.ExpiresAt) {
		s.cache.Clear(bindingKey(secureID))
		return models.SecureSessionBinding{}, models.ErrSecureSessionAbsent
	}
	b.RequestCounter++
	return *b, nil
}

// Revoke removes a binding
func (s *SecureSessions) Revoke(secureID string) {
	s.cache.Clear(bindingKey(secureID))
}

// Count returns the number of live bindings
func (s *SecureSessions) Count() int {
	n := 0
	s.cache.Range(func(key string, _ interface{}) bool {
		if len(key) > len(bindingPrefix) && key[:len(bindingPrefix)] == bindingPrefix {
			n++
		}
		return true
	})
	return n
}

// IssueCSRF creates a one-time token valid for ip and secureID
func (s *SecureSessions) IssueCSRF(ip, secureID string) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	s.cache.SetWithTTL(csrfKey(token), csrfToken{ip: ip, secureID: secureID}, s.csrfTTL)
	return token, nil
}

// ConsumeCSRF accepts a token exactly once, from the ip and secure session it was issued to
func (s *SecureSessions) ConsumeCSRF(token, ip, secureID string) error {
	if token == "" {
		return models.ErrCSRFInvalid
	}
	val, ok := s.cache.Take(csrfKey(token))
	if !ok {
		return models.ErrCSRFInvalid
	}
	t := val.(csrfToken)
	if t.ip != ip || t.secureID != secureID {
		return models.ErrCSRFInvalid
	}
	return nil
}

const bindingPrefix = "binding:"

func bindingKey(id string) string { return bindingPrefix + id }

func csrfKey(token string) string { return "csrf:" + token }

// randomToken returns 32 bytes of crypto randomness, base64url encoded
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
