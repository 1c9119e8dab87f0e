// ABOUTME: File-backed session store, one JSON document per owner
// ABOUTME: Writes go to a temp file and are renamed into place

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/markalston/portal-gateway/models"
)

// FileStore persists each owner's session as <dir>/<owner>.json
type FileStore struct {
	dir string
	ttl time.Duration
	now func() time.Time
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string, ttl time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	return &FileStore{dir: dir, ttl: ttl, now: time.Now}, nil
}

// SetClock replaces the time source. Intended for tests.
func (s *FileStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) Load(ctx context.Context, owner string) (*models.PersistedSession, error) {
	path, err := s.path(owner)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var session models.PersistedSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	if session.Expired(s.now(), s.ttl) {
		return nil, models.ErrSessionNotFound
	}
	return &session, nil
}

func (s *FileStore) Save(ctx context.Context, owner string, tokens *models.TokenSet) (*models.PersistedSession, error) {
	if tokens.Empty() {
		return nil, models.ValidationErrorf("refusing to save empty token set")
	}
	path, err := s.path(owner)
	if err != nil {
		return nil, err
	}

	session := newSession(owner, tokens, s.now())
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to move session into place: %w", err)
	}
	return session, nil
}

func (s *FileStore) List(ctx context.Context) ([]models.PersistedSession, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var out []models.PersistedSession
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		owner := strings.TrimSuffix(name, ".json")
		session, err := s.Load(ctx, owner)
		if err != nil {
			if !errors.Is(err, models.ErrSessionNotFound) {
				slog.Warn("Skipping unreadable session file", "file", name, "error", err)
			}
			continue
		}
		out = append(out, *session)
	}
	return out, nil
}

// path rejects owners that could escape the session directory
func (s *FileStore) path(owner string) (string, error) {
	if owner == "" || strings.ContainsAny(owner, `/\.`) {
		return "", models.ValidationErrorf("invalid owner key")
	}
	return filepath.Join(s.dir, owner+".json"), nil
}
