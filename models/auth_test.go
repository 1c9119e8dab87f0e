// ABOUTME: Tests for token set and persisted session models
// ABOUTME: Verifies TTL boundary semantics and token summary extraction

package models

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestPersistedSession_Expired(t *testing.T) {
	captured := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := &PersistedSession{OwnerKey: "12345678900", CapturedAt: captured}
	ttl := 24 * time.Hour

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"just captured", captured, false},
		{"one nanosecond before ttl", captured.Add(ttl - time.Nanosecond), false},
		{"exactly at ttl", captured.Add(ttl), true},
		{"after ttl", captured.Add(ttl + time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Expired(tt.at, ttl); got != tt.want {
				t.Errorf("Expired(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestTokenSet_CloneIsIndependent(t *testing.T) {
	orig := &TokenSet{
		AccessToken:  "a",
		RefreshToken: "r",
		DeviceKeys:   map[string]string{"device": "d1"},
	}

	clone := orig.Clone()
	clone.DeviceKeys["device"] = "changed"
	clone.AccessToken = "b"

	if orig.DeviceKeys["device"] != "d1" {
		t.Errorf("Expected original device key d1, got %s", orig.DeviceKeys["device"])
	}
	if orig.AccessToken != "a" {
		t.Errorf("Expected original access token a, got %s", orig.AccessToken)
	}
}

func TestTokenSet_Empty(t *testing.T) {
	var nilSet *TokenSet
	if !nilSet.Empty() {
		t.Error("Expected nil token set to be empty")
	}
	if !(&TokenSet{RefreshToken: "r"}).Empty() {
		t.Error("Expected token set without access token to be empty")
	}
	if (&TokenSet{AccessToken: "a"}).Empty() {
		t.Error("Expected token set with access token to be non-empty")
	}
}

func TestSummarizeTokens_JWTExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "12345678900",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("portal-secret"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	captured := time.Now()
	summary := SummarizeTokens(&TokenSet{
		AccessToken:  signed,
		RefreshToken: "refresh",
		DeviceKeys:   map[string]string{"k1": "v1", "k2": "v2"},
	}, captured)

	if !summary.HasAccessToken || !summary.HasRefreshToken {
		t.Errorf("Expected both tokens reported, got %+v", summary)
	}
	if summary.DeviceKeyCount != 2 {
		t.Errorf("Expected 2 device keys, got %d", summary.DeviceKeyCount)
	}
	if summary.AccessExpiresAt == nil {
		t.Fatal("Expected access expiry from exp claim")
	}
	if !summary.AccessExpiresAt.Equal(exp) {
		t.Errorf("Expected expiry %v, got %v", exp, *summary.AccessExpiresAt)
	}
}

func TestSummarizeTokens_OpaqueToken(t *testing.T) {
	summary := SummarizeTokens(&TokenSet{AccessToken: "not-a-jwt"}, time.Now())

	if !summary.HasAccessToken {
		t.Error("Expected access token reported")
	}
	if summary.AccessExpiresAt != nil {
		t.Errorf("Expected no expiry for opaque token, got %v", summary.AccessExpiresAt)
	}
}
