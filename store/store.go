// ABOUTME: Session store contract and backend factory
// ABOUTME: Maps an owner identity to its latest portal token set with age-based expiry

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markalston/portal-gateway/config"
	"github.com/markalston/portal-gateway/logger"
	"github.com/markalston/portal-gateway/models"
)

// Store persists portal sessions per owner.
//
// Load returns models.ErrSessionNotFound when the owner has no session or the
// session is at or past the TTL. Save overwrites the previous record and stamps
// the capture time. List returns only sessions still within the TTL.
type Store interface {
	Load(ctx context.Context, owner string) (*models.PersistedSession, error)
	Save(ctx context.Context, owner string, tokens *models.TokenSet) (*models.PersistedSession, error)
	List(ctx context.Context) ([]models.PersistedSession, error)
	Name() string
}

// Backends holds the optional shared connections a store may need
type Backends struct {
	DB    *sql.DB
	Redis *redis.Client
}

// New builds the store selected by cfg.SessionStore
func New(cfg *config.Config, b Backends) (Store, error) {
	switch cfg.SessionStore {
	case config.StoreMemory:
		return NewMemoryStore(cfg.SessionTTL), nil
	case config.StoreFile:
		return NewFileStore(cfg.SessionDir, cfg.SessionTTL)
	case config.StorePostgres:
		if b.DB == nil {
			return nil, fmt.Errorf("postgres session store requires a database connection")
		}
		return NewPostgresStore(b.DB, cfg.SessionTTL), nil
	case config.StoreRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("redis session store requires a redis client")
		}
		return NewRedisStore(b.Redis, cfg.SessionTTL), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

// SaveBestEffort persists tokens and logs a failure instead of returning it.
// The returned session always carries the tokens so the caller can keep using
// them for the current request even when the write did not land.
func SaveBestEffort(ctx context.Context, s Store, owner string, tokens *models.TokenSet) *models.PersistedSession {
	saved, err := s.Save(ctx, owner, tokens)
	if err != nil {
		slog.Error("Failed to persist portal session",
			"owner", logger.MaskOwner(owner),
			"store", s.Name(),
			"error", err,
		)
		fallback := tokens.Clone()
		if fallback == nil {
			fallback = &models.TokenSet{}
		}
		return &models.PersistedSession{
			OwnerKey:   owner,
			Tokens:     *fallback,
			CapturedAt: time.Now(),
		}
	}
	return saved
}

func newSession(owner string, tokens *models.TokenSet, now time.Time) *models.PersistedSession {
	return &models.PersistedSession{
		OwnerKey:   owner,
		Tokens:     *tokens.Clone(),
		CapturedAt: now,
	}
}
