// ABOUTME: Login transaction phases and login API contracts
// ABOUTME: Phases only move forward or jump to a terminal FAILED/EXPIRED state

package models

import "time"

// Phase is the state of a login transaction
type Phase string

const (
	PhaseStarted            Phase = "STARTED"
	PhasePhoneOptionsListed Phase = "PHONE_OPTIONS_LISTED"
	PhaseSMSRequested       Phase = "SMS_REQUESTED"
	PhaseAuthenticated      Phase = "AUTHENTICATED"
	PhaseFailed             Phase = "FAILED"
	PhaseExpired            Phase = "EXPIRED"
)

var phaseOrder = map[Phase]int{
	PhaseStarted:            0,
	PhasePhoneOptionsListed: 1,
	PhaseSMSRequested:       2,
	PhaseAuthenticated:      3,
}

// Terminal reports whether no further transition is possible
func (p Phase) Terminal() bool {
	return p == PhaseAuthenticated || p == PhaseFailed || p == PhaseExpired
}

// CanTransition reports whether moving from p to next is allowed:
// exactly one step forward, or a jump from any non-terminal phase to FAILED/EXPIRED.
func (p Phase) CanTransition(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFailed || next == PhaseExpired {
		return true
	}
	from, ok := phaseOrder[p]
	if !ok {
		return false
	}
	to, ok := phaseOrder[next]
	return ok && to == from+1
}

// LoginTransactionView is the externally visible state of a login transaction
type LoginTransactionView struct {
	ID             string    `json:"transaction_id"`
	OwnerKey       string    `json:"-"`
	Phase          Phase     `json:"phase"`
	History        []Phase   `json:"history"`
	PhoneOptions   []string  `json:"phone_options,omitempty"`
	Diagnostic     string    `json:"diagnostic,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// LoginStartRequest starts a login for an owner
type LoginStartRequest struct {
	OwnerIdentifier string `json:"owner_identifier"`
}

// LoginStartResponse carries everything the caller needs for the next steps
type LoginStartResponse struct {
	TransactionID string   `json:"transaction_id"`
	SecureID      string   `json:"secure_id"`
	CSRFToken     string   `json:"csrf_token"`
	PhoneOptions  []string `json:"phone_options"`
}

// SelectPhoneRequest picks the number the portal will send the code to
type SelectPhoneRequest struct {
	TransactionID string `json:"transaction_id"`
	Phone         string `json:"phone"`
}

// SelectPhoneResponse acknowledges the SMS request
type SelectPhoneResponse struct {
	Ack       bool   `json:"ack"`
	CSRFToken string `json:"csrf_token"`
}

// VerifyCodeRequest submits the SMS code
type VerifyCodeRequest struct {
	TransactionID string `json:"transaction_id"`
	Code          string `json:"code"`
}

// VerifyCodeResponse reports the outcome of the final phase
type VerifyCodeResponse struct {
	Success      bool          `json:"success"`
	TokenSummary *TokenSummary `json:"token_summary,omitempty"`
	Error        string        `json:"error,omitempty"`
}
