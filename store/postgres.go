// ABOUTME: Postgres-backed session store over database/sql with the pgx driver
// ABOUTME: One row per owner in portal_sessions, overwritten on every save

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/markalston/portal-gateway/models"
)

const (
	selectSessionSQL = `SELECT owner_key, token_set, captured_at FROM portal_sessions WHERE owner_key = $1`
	upsertSessionSQL = `INSERT INTO portal_sessions (owner_key, token_set, captured_at)
VALUES ($1, $2, $3)
ON CONFLICT (owner_key) DO UPDATE SET token_set = EXCLUDED.token_set, captured_at = EXCLUDED.captured_at`
	listSessionsSQL = `SELECT owner_key, token_set, captured_at FROM portal_sessions WHERE captured_at > $1 ORDER BY owner_key`
)

// PostgresStore persists sessions in the portal_sessions table
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewPostgresStore returns a store that uses db. Migrations must already be applied.
func NewPostgresStore(db *sql.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl, now: time.Now}
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Load(ctx context.Context, owner string) (*models.PersistedSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, selectSessionSQL, owner))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Expired(s.now(), s.ttl) {
		return nil, models.ErrSessionNotFound
	}
	return session, nil
}

func (s *PostgresStore) Save(ctx context.Context, owner string, tokens *models.TokenSet) (*models.PersistedSession, error) {
	if tokens.Empty() {
		return nil, models.ValidationErrorf("refusing to save empty token set")
	}
	session := newSession(owner, tokens, s.now().UTC())
	data, err := json.Marshal(session.Tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token set: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, upsertSessionSQL, owner, string(data), session.CapturedAt); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.PersistedSession, error) {
	cutoff := s.now().Add(-s.ttl)
	rows, err := s.db.QueryContext(ctx, listSessionsSQL, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.PersistedSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *session)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.PersistedSession, error) {
	var (
		session models.PersistedSession
		raw     []byte
	)
	if err := row.Scan(&session.OwnerKey, &raw, &session.CapturedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &session.Tokens); err != nil {
		return nil, fmt.Errorf("invalid token_set json: %w", err)
	}
	return &session, nil
}
