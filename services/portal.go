// ABOUTME: Token-aware client for the portal's internal JSON APIs
// ABOUTME: Attaches stored tokens, refreshes once on 401, and retries transient failures once

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/markalston/portal-gateway/config"
	"github.com/markalston/portal-gateway/logger"
	"github.com/markalston/portal-gateway/models"
	"github.com/markalston/portal-gateway/store"
)

const refreshPath = "/auth/refresh"

// PortalRequest describes one call against the portal API. It is rebuilt on
// every attempt so the body can be replayed.
type PortalRequest struct {
	Op     string
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// PortalResponse is a fully read portal response
type PortalResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// PortalClient issues authenticated calls on behalf of an owner
type PortalClient struct {
	apiURL string
	scheme string
	store  store.Store
	locks  *OwnerLocks
	client *http.Client
	sf     singleflight.Group
}

// NewPortalClient creates a client over the configured portal API.
// locks may be shared with the login orchestrator.
func NewPortalClient(cfg *config.Config, s store.Store, locks *OwnerLocks) *PortalClient {
	if locks == nil {
		locks = NewOwnerLocks()
	}
	return &PortalClient{
		apiURL: cfg.PortalAPIURL,
		scheme: cfg.PortalRefreshScheme,
		store:  s,
		locks:  locks,
		client: &http.Client{
			Timeout:   cfg.PortalTimeout,
			Transport: newPortalTransport(cfg.PortalAllProxy),
		},
	}
}

// SetHTTPClient allows overriding the HTTP client (useful for testing)
func (c *PortalClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

// Call performs req for owner. A 401 triggers exactly one refresh followed by
// one retry; a second 401 yields models.ErrAuthExpired. A transport failure on
// the first attempt is retried once. No request is ever sent more than twice.
func (c *PortalClient) Call(ctx context.Context, owner string, req PortalRequest) (*PortalResponse, error) {
	session, err := c.store.Load(ctx, owner)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: no stored session", models.ErrAuthExpired)
		}
		return nil, err
	}
	tokens := &session.Tokens

	resp, err := c.do(ctx, req, tokens)
	switch {
	case err != nil && isTransient(ctx, err):
		slog.Debug("Retrying portal call after network error", "op", req.Op, "error", err)
		resp, err = c.do(ctx, req, tokens)
		if err != nil {
			return nil, c.wrapTransport(req.Op, err)
		}
		if resp.Status == http.StatusUnauthorized {
			return nil, &models.PortalError{Op: req.Op, Status: resp.Status, Err: models.ErrAuthExpired}
		}
		return c.checkStatus(req.Op, resp)
	case err != nil:
		return nil, c.wrapTransport(req.Op, err)
	case resp.Status != http.StatusUnauthorized:
		return c.checkStatus(req.Op, resp)
	}

	refreshed, err := c.refreshFrom(ctx, owner, tokens)
	if err != nil {
		return nil, err
	}

	resp, err = c.do(ctx, req, refreshed)
	if err != nil {
		return nil, c.wrapTransport(req.Op, err)
	}
	if resp.Status == http.StatusUnauthorized {
		slog.Warn("Portal rejected refreshed tokens", "op", req.Op, "owner", logger.MaskOwner(owner))
		return nil, &models.PortalError{Op: req.Op, Status: resp.Status, Err: models.ErrAuthExpired}
	}
	return c.checkStatus(req.Op, resp)
}

// Refresh exchanges the owner's stored refresh token for a new pair and
// persists it. Concurrent refreshes for one owner share a single portal call.
func (c *PortalClient) Refresh(ctx context.Context, owner string) (*models.TokenSet, error) {
	return c.refreshFrom(ctx, owner, nil)
}

// refreshFrom refreshes unless another caller already replaced the tokens
// that stale identifies, in which case the newer stored set is returned.
func (c *PortalClient) refreshFrom(ctx context.Context, owner string, stale *models.TokenSet) (*models.TokenSet, error) {
	v, err, _ := c.sf.Do(owner, func() (interface{}, error) {
		unlock := c.locks.Lock(owner)
		defer unlock()

		session, err := c.store.Load(ctx, owner)
		if err != nil {
			if errors.Is(err, models.ErrSessionNotFound) {
				return nil, fmt.Errorf("%w: no stored session", models.ErrAuthExpired)
			}
			return nil, err
		}
		if stale != nil && session.Tokens.AccessToken != stale.AccessToken {
			return session.Tokens.Clone(), nil
		}

		fresh, err := c.exchange(ctx, &session.Tokens)
		if err != nil {
			return nil, err
		}
		saved := store.SaveBestEffort(ctx, c.store, owner, fresh)
		slog.Info("Portal tokens refreshed", "owner", logger.MaskOwner(owner))
		return saved.Tokens.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.TokenSet), nil
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token,omitempty"`
}

type refreshResponse struct {
	AccessToken  *string `json:"access_token"`
	RefreshToken *string `json:"refresh_token"`
}

// exchange calls the refresh endpoint. Device keys carry over unchanged and a
// response without a refresh token keeps the current one.
func (c *PortalClient) exchange(ctx context.Context, current *models.TokenSet) (*models.TokenSet, error) {
	const op = "refresh"
	if current.RefreshToken == "" {
		return nil, &models.PortalError{Op: op, Err: models.ErrAuthExpired}
	}

	payload := refreshPayload{RefreshToken: current.RefreshToken}
	if c.scheme != config.RefreshSchemeLegacy {
		payload.AccessToken = current.AccessToken
	}

	req := PortalRequest{Op: op, Method: http.MethodPost, Path: refreshPath, Body: payload}
	resp, err := c.do(ctx, req, current)
	if err != nil {
		return nil, c.wrapTransport(op, err)
	}
	switch {
	case resp.Status == http.StatusUnauthorized, resp.Status == http.StatusBadRequest:
		return nil, &models.PortalError{Op: op, Status: resp.Status, Err: models.ErrAuthExpired}
	case resp.Status != http.StatusOK:
		return nil, statusError(op, resp)
	}

	var body refreshResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, &models.PortalError{Op: op, Status: resp.Status, Err: fmt.Errorf("invalid refresh response: %w", err)}
	}
	if body.AccessToken == nil || *body.AccessToken == "" {
		return nil, &models.PortalError{Op: op, Status: resp.Status, Err: models.ErrAuthExpired}
	}

	fresh := current.Clone()
	fresh.AccessToken = *body.AccessToken
	if body.RefreshToken != nil && *body.RefreshToken != "" {
		fresh.RefreshToken = *body.RefreshToken
	}
	return fresh, nil
}

// do sends one attempt and reads the whole body
func (c *PortalClient) do(ctx context.Context, req PortalRequest, tokens *models.TokenSet) (*PortalResponse, error) {
	u, err := url.Parse(c.apiURL + req.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid portal url: %w", err)
	}
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	attachTokens(httpReq, tokens)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	slog.Debug("Portal call", "op", req.Op, "status", resp.StatusCode, "duration", time.Since(start))
	return &PortalResponse{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// attachTokens sets the bearer token and replays each device key as a header
// under the name it was captured with.
func attachTokens(req *http.Request, tokens *models.TokenSet) {
	if tokens == nil {
		return
	}
	if tokens.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	}
	for name, value := range tokens.DeviceKeys {
		if name == "" || strings.EqualFold(name, "Authorization") {
			continue
		}
		req.Header.Set(name, value)
	}
}

func (c *PortalClient) checkStatus(op string, resp *PortalResponse) (*PortalResponse, error) {
	if resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}
	return nil, statusError(op, resp)
}

func (c *PortalClient) wrapTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &models.PortalError{Op: op, Err: fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)}
}

var errUnexpectedStatus = errors.New("unexpected status")

// statusError classifies a non-2xx, non-401 response. An HTML 403 is the
// bot-defense interstitial rather than an API answer.
func statusError(op string, resp *PortalResponse) error {
	if resp.Status == http.StatusForbidden && strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return &models.PortalError{Op: op, Status: resp.Status, Err: models.ErrPortalBlocked}
	}
	snippet := string(resp.Body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return &models.PortalError{Op: op, Status: resp.Status, Err: fmt.Errorf("%w: %s", errUnexpectedStatus, snippet)}
}

// isTransient reports network-level failures worth one more attempt
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
