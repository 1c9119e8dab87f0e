// ABOUTME: Client side of the SMS login flow
// ABOUTME: Carries the secure session id and rotates the one-time CSRF token between steps

package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/markalston/portal-gateway/models"
)

// LoginSession is one login transaction as seen from the CLI
type LoginSession struct {
	c             *Client
	TransactionID string
	SecureID      string
	PhoneOptions  []string
	csrf          string
}

// StartLogin calls POST /api/v1/login/start
func (c *Client) StartLogin(ctx context.Context, owner string) (*LoginSession, error) {
	var out models.LoginStartResponse
	req := request{
		method: http.MethodPost,
		path:   "/api/v1/login/start",
		body:   models.LoginStartRequest{OwnerIdentifier: owner},
	}
	if _, err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &LoginSession{
		c:             c,
		TransactionID: out.TransactionID,
		SecureID:      out.SecureID,
		PhoneOptions:  out.PhoneOptions,
		csrf:          out.CSRFToken,
	}, nil
}

// SelectPhone calls POST /api/v1/login/select-phone
func (s *LoginSession) SelectPhone(ctx context.Context, phone string) error {
	var out models.SelectPhoneResponse
	_, err := s.send(ctx, request{
		method: http.MethodPost,
		path:   "/api/v1/login/select-phone",
		body:   models.SelectPhoneRequest{TransactionID: s.TransactionID, Phone: phone},
	}, &out)
	return err
}

// VerifyCode calls POST /api/v1/login/verify-code. A rejected code returns a
// 400 APIError and the session stays usable for another attempt.
func (s *LoginSession) VerifyCode(ctx context.Context, code string) (*models.VerifyCodeResponse, error) {
	var out models.VerifyCodeResponse
	if _, err := s.send(ctx, request{
		method: http.MethodPost,
		path:   "/api/v1/login/verify-code",
		body:   models.VerifyCodeRequest{TransactionID: s.TransactionID, Code: code},
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status calls GET /api/v1/login/status
func (s *LoginSession) Status(ctx context.Context) (*models.LoginTransactionView, error) {
	var out models.LoginTransactionView
	if _, err := s.send(ctx, request{
		method: http.MethodGet,
		path:   "/api/v1/login/status",
		query:  url.Values{"transaction_id": {s.TransactionID}},
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *LoginSession) send(ctx context.Context, req request, out any) (http.Header, error) {
	req.headers = map[string]string{
		secureSessionHeader: s.SecureID,
		csrfHeader:          s.csrf,
	}
	h, err := s.c.do(ctx, req, out)
	if h != nil {
		if next := h.Get(csrfHeader); next != "" {
			s.csrf = next
		}
	}
	return h, err
}
