// ABOUTME: Browser automation contract used by the login orchestrator
// ABOUTME: One AutomationSession owns one isolated browser for the life of a login

package services

import (
	"context"

	"github.com/markalston/portal-gateway/models"
)

// Automation launches portal login sessions
type Automation interface {
	// Start opens the portal login page, settles the bot-defense check, submits
	// the owner's tax id and returns the phone numbers eligible for the SMS code.
	// A detected block page yields models.ErrPortalBlocked. On error the
	// implementation has already released its browser.
	Start(ctx context.Context, owner string) (AutomationSession, []string, error)
}

// AutomationSession is a live browser positioned somewhere in the login flow.
// Methods are called from a single goroutine.
type AutomationSession interface {
	// SelectPhone picks the number to receive the code and asks the portal to send it
	SelectPhone(ctx context.Context, phone string) error
	// SubmitCode types the code and returns the captured token set once the
	// portal lands on its authenticated area. A rejected code wraps
	// models.ErrValidation so the caller can try again.
	SubmitCode(ctx context.Context, code string) (*models.TokenSet, error)
	// Close releases the browser. Safe to call more than once.
	Close() error
}
