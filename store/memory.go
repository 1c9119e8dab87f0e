// ABOUTME: In-memory session store backed by the TTL cache
// ABOUTME: Used for development and tests; contents do not survive restarts

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/markalston/portal-gateway/cache"
	"github.com/markalston/portal-gateway/models"
)

// MemoryStore keeps sessions in a TTL cache keyed by owner
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore creates an in-memory store
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock replaces the time source for the store and its cache
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
	s.cache.SetClock(now)
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Load(ctx context.Context, owner string) (*models.PersistedSession, error) {
	val, ok := s.cache.Get(sessionKey(owner))
	if !ok {
		return nil, models.ErrSessionNotFound
	}

	session, ok := val.(*models.PersistedSession)
	if !ok {
		return nil, fmt.Errorf("invalid session data for owner")
	}
	if session.Expired(s.now(), s.ttl) {
		return nil, models.ErrSessionNotFound
	}

	out := *session
	out.Tokens = *session.Tokens.Clone()
	return &out, nil
}

func (s *MemoryStore) Save(ctx context.Context, owner string, tokens *models.TokenSet) (*models.PersistedSession, error) {
	if tokens.Empty() {
		return nil, models.ValidationErrorf("refusing to save empty token set")
	}
	session := newSession(owner, tokens, s.now())
	s.cache.SetWithTTL(sessionKey(owner), session, s.ttl)
	return session, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]models.PersistedSession, error) {
	now := s.now()
	var out []models.PersistedSession
	s.cache.Range(func(_ string, val interface{}) bool {
		if session, ok := val.(*models.PersistedSession); ok && !session.Expired(now, s.ttl) {
			out = append(out, *session)
		}
		return true
	})
	return out, nil
}

// sessionKey returns the cache key for an owner
func sessionKey(owner string) string {
	return "session:" + owner
}
