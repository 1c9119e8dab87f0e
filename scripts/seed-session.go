// ABOUTME: Seeds a portal session into the file store for local development
// ABOUTME: Mints a JWT-shaped access token with an expiry so the token summary and sync loop have data

package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/markalston/portal-gateway/models"
	"github.com/markalston/portal-gateway/store"
)

func main() {
	owner := flag.String("owner", "", "owner tax identifier")
	dir := flag.String("dir", "./sessions", "file store directory (SESSION_DIR)")
	ttl := flag.Duration("ttl", 24*time.Hour, "store TTL (SESSION_TTL)")
	expires := flag.Duration("expires", time.Hour, "access token lifetime; negative mints an already expired token")
	flag.Parse()

	normalized, err := models.NormalizeOwner(*owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid owner: %v\n", err)
		os.Exit(1)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate signing key: %v\n", err)
		os.Exit(1)
	}

	now := time.Now()
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": normalized,
		"iat": now.Unix(),
		"exp": now.Add(*expires).Unix(),
	}).SignedString(secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	s, err := store.NewFileStore(*dir, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	session, err := s.Save(context.Background(), normalized, &models.TokenSet{
		AccessToken:  access,
		RefreshToken: rand.Text(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save session: %v\n", err)
		os.Exit(1)
	}

	summary := models.SummarizeTokens(&session.Tokens, session.CapturedAt)
	fmt.Printf("Seeded session for %s in %s (access expires %s)\n",
		normalized, *dir, summary.AccessExpiresAt.Format(time.RFC3339))
}
