// ABOUTME: Security gateway state models
// ABOUTME: Secure session bindings, auth failure records, and blocked IP entries

package models

import "time"

// SecureSessionBinding ties an opaque secure id to the IP that started a login
type SecureSessionBinding struct {
	SecureID       string    `json:"-"`
	BoundIP        string    `json:"bound_ip"`
	TransactionID  string    `json:"transaction_id"`
	OwnerKey       string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	RequestCounter int       `json:"request_counter"`
}

// AuthFailureRecord lists recent failed authentications from one IP
type AuthFailureRecord struct {
	IP       string
	Failures []time.Time
}

// BlockedIP is an entry in the gateway block list
type BlockedIP struct {
	IP        string     `json:"ip"`
	Reason    string     `json:"reason"`
	BlockedAt time.Time  `json:"blocked_at"`
	Until     *time.Time `json:"until,omitempty"`
}

// UnblockRequest removes an IP from the block list
type UnblockRequest struct {
	IP string `json:"ip"`
}
