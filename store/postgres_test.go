package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/markalston/portal-gateway/db"
	"github.com/markalston/portal-gateway/db/migrate"
	"github.com/markalston/portal-gateway/models"
)

func TestPostgresStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate up failed: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	owner := "99999999999"
	defer conn.ExecContext(ctx, "DELETE FROM portal_sessions WHERE owner_key = $1", owner)

	s := NewPostgresStore(conn, time.Hour)
	s.Save(ctx, owner, &models.TokenSet{AccessToken: "a1", RefreshToken: "r1"})
	s.Save(ctx, owner, &models.TokenSet{AccessToken: "a2"})

	got, err := s.Load(ctx, owner)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Tokens.AccessToken != "a2" || got.Tokens.RefreshToken != "" {
		t.Errorf("Expected overwritten token set, got %+v", got.Tokens)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.Load(ctx, owner); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound past TTL, got %v", err)
	}
}
