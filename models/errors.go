// ABOUTME: Error taxonomy shared by the gateway services and HTTP boundary
// ABOUTME: Sentinel errors plus a PortalError wrapper carrying operation and status

package models

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientNetwork covers network failures and timeouts talking to the portal
	ErrTransientNetwork = errors.New("transient network error")
	// ErrAuthExpired means refresh-and-retry was exhausted; the owner must log in again
	ErrAuthExpired = errors.New("re-authentication required")
	// ErrPortalBlocked means the portal's bot defense tripped; never retried automatically
	ErrPortalBlocked = errors.New("portal blocked the automation session")
	// ErrValidation marks malformed input rejected before any portal call
	ErrValidation = errors.New("validation error")
	// ErrRateLimitExceeded is returned when a caller exceeds its request window
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrSessionHijackSuspected marks a secure session presented from the wrong IP
	ErrSessionHijackSuspected = errors.New("session hijack suspected")
	// ErrPhaseTimeout means a login phase wait exceeded its bound
	ErrPhaseTimeout = errors.New("login phase timed out")

	ErrSessionNotFound     = errors.New("session not found")
	ErrTransactionNotFound = errors.New("login transaction not found")
	ErrUnitNotFound        = errors.New("unit not found for owner")
	ErrInvalidPhase        = errors.New("command not valid in current phase")
	ErrLoginInProgress     = errors.New("login already in progress for owner")
	ErrIPBlocked           = errors.New("ip address blocked")
	ErrCSRFInvalid         = errors.New("csrf token missing or invalid")
	ErrSecureSessionAbsent = errors.New("secure session missing or expired")
)

// PortalError wraps a failure talking to the portal with the operation name and HTTP status
type PortalError struct {
	Op     string
	Status int
	Err    error
}

func (e *PortalError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("portal %s (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("portal %s: %v", e.Op, e.Err)
}

func (e *PortalError) Unwrap() error {
	return e.Err
}

// ValidationErrorf builds an ErrValidation-wrapped error with a caller-facing message
func ValidationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
