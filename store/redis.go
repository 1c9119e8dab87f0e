// ABOUTME: Redis-backed session store using native key expiry
// ABOUTME: Keys are portal:session:<owner>, values are the JSON session record

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markalston/portal-gateway/models"
)

const redisKeyPrefix = "portal:session:"

// RedisStore persists sessions in Redis with EXPIRE set to the TTL
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore returns a store using client
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

// NewRedisClient parses a redis:// URL and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Load(ctx context.Context, owner string) (*models.PersistedSession, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+owner).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session models.PersistedSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	// Key expiry and captured_at can drift apart if the TTL config changed
	if session.Expired(s.now(), s.ttl) {
		return nil, models.ErrSessionNotFound
	}
	return &session, nil
}

func (s *RedisStore) Save(ctx context.Context, owner string, tokens *models.TokenSet) (*models.PersistedSession, error) {
	if tokens.Empty() {
		return nil, models.ValidationErrorf("refusing to save empty token set")
	}
	session := newSession(owner, tokens, s.now().UTC())
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+owner, data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

func (s *RedisStore) List(ctx context.Context) ([]models.PersistedSession, error) {
	var out []models.PersistedSession
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		owner := strings.TrimPrefix(iter.Val(), redisKeyPrefix)
		session, err := s.Load(ctx, owner)
		if err != nil {
			if !errors.Is(err, models.ErrSessionNotFound) {
				slog.Warn("Skipping unreadable session", "key", iter.Val(), "error", err)
			}
			continue
		}
		out = append(out, *session)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return out, nil
}
