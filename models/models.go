// ABOUTME: Shared API response models for the portal gateway
// ABOUTME: JSON-serializable structures returned by handlers and middleware

package models

import "time"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error             string `json:"error"`
	Details           string `json:"details,omitempty"`
	Code              int    `json:"code"`
	OperatorAttention bool   `json:"operator_attention,omitempty"`
}

// HealthResponse reports gateway component status
type HealthResponse struct {
	Status             string    `json:"status"`
	SessionStore       string    `json:"session_store"`
	SchedulerRunning   bool      `json:"scheduler_running"`
	ActiveTransactions int       `json:"active_transactions"`
	BlockedIPs         int       `json:"blocked_ips"`
	Timestamp          time.Time `json:"timestamp"`
}
