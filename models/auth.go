// ABOUTME: Portal token set and persisted session models
// ABOUTME: Defines what the session store keeps per owner and the token summary shown to callers

package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSet is the credential bundle captured from an authenticated portal session.
// All values are opaque to the gateway.
type TokenSet struct {
	AccessToken  string            `json:"access"`
	RefreshToken string            `json:"refresh"`
	DeviceKeys   map[string]string `json:"device_keys,omitempty"`
}

// Empty reports whether the set carries no usable access token
func (t *TokenSet) Empty() bool {
	return t == nil || t.AccessToken == ""
}

// Clone returns a deep copy so callers cannot mutate a stored set
func (t *TokenSet) Clone() *TokenSet {
	if t == nil {
		return nil
	}
	out := &TokenSet{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
	if len(t.DeviceKeys) > 0 {
		out.DeviceKeys = make(map[string]string, len(t.DeviceKeys))
		for k, v := range t.DeviceKeys {
			out.DeviceKeys[k] = v
		}
	}
	return out
}

// PersistedSession is the durable record kept per owner.
// Readers must treat a session older than the store TTL as absent.
type PersistedSession struct {
	OwnerKey   string    `json:"owner_key"`
	Tokens     TokenSet  `json:"token_set"`
	CapturedAt time.Time `json:"captured_at"`
}

// Expired reports whether the session has reached its TTL at the given instant
func (s *PersistedSession) Expired(now time.Time, ttl time.Duration) bool {
	return !now.Before(s.CapturedAt.Add(ttl))
}

// TokenSummary is the non-secret view of a token set returned to API callers
type TokenSummary struct {
	HasAccessToken  bool       `json:"has_access_token"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	DeviceKeyCount  int        `json:"device_key_count"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
	CapturedAt      time.Time  `json:"captured_at"`
}

// SummarizeTokens builds a TokenSummary. The access token expiry is read from the
// JWT exp claim when the portal issues JWTs; the signature is not verified here.
func SummarizeTokens(t *TokenSet, capturedAt time.Time) TokenSummary {
	summary := TokenSummary{CapturedAt: capturedAt}
	if t == nil {
		return summary
	}
	summary.HasAccessToken = t.AccessToken != ""
	summary.HasRefreshToken = t.RefreshToken != ""
	summary.DeviceKeyCount = len(t.DeviceKeys)

	if t.AccessToken != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(t.AccessToken, claims); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				at := exp.Time
				summary.AccessExpiresAt = &at
			}
		}
	}
	return summary
}
