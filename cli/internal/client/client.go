// ABOUTME: HTTP client for the portal gateway API
// ABOUTME: Wraps operator and login calls with error handling for CLI usage

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/markalston/portal-gateway/models"
)

// UserAgent identifies the CLI to the gateway's request heuristics
const UserAgent = "portalctl/1.0"

const (
	secureSessionHeader = "X-Secure-Session"
	csrfHeader          = "X-CSRF-Token"
)

// Client is the API client for the portal gateway
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client. apiKey is sent as a bearer token on operator
// endpoints and may be empty when the gateway runs with auth disabled.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			// login start waits for the portal's phone list
			Timeout: 2 * time.Minute,
		},
	}
}

// APIError is a non-2xx response from the gateway
type APIError struct {
	Status            int
	Message           string
	OperatorAttention bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend error: %s", e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type request struct {
	method   string
	path     string
	query    url.Values
	body     any
	operator bool
	headers  map[string]string
}

// do sends req and decodes a 200 body into out. The response headers are
// returned so login calls can pick up the rotated CSRF token.
func (c *Client) do(ctx context.Context, req request, out any) (http.Header, error) {
	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal input: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", UserAgent)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.operator && c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range req.headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.handleRequestError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.Header, c.handleErrorResponse(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("invalid response from backend: %w", err)
		}
	}
	return resp.Header, nil
}

// handleRequestError converts context errors to user-friendly messages
func (c *Client) handleRequestError(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return fmt.Errorf("request canceled")
	}
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("request timed out")
	}
	return fmt.Errorf("cannot connect to backend at %s: %w", c.baseURL, err)
}

// handleErrorResponse parses API error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errResp models.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &APIError{Status: resp.StatusCode}
	}
	return &APIError{
		Status:            resp.StatusCode,
		Message:           errResp.Error,
		OperatorAttention: errResp.OperatorAttention,
	}
}

// Health calls GET /api/v1/health
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/api/v1/health"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SchedulerStatus calls GET /api/v1/scheduler/status
func (c *Client) SchedulerStatus(ctx context.Context) (*models.SchedulerStatus, error) {
	return c.scheduler(ctx, http.MethodGet, "status")
}

// SchedulerStart calls POST /api/v1/scheduler/start
func (c *Client) SchedulerStart(ctx context.Context) (*models.SchedulerStatus, error) {
	return c.scheduler(ctx, http.MethodPost, "start")
}

// SchedulerStop calls POST /api/v1/scheduler/stop
func (c *Client) SchedulerStop(ctx context.Context) (*models.SchedulerStatus, error) {
	return c.scheduler(ctx, http.MethodPost, "stop")
}

func (c *Client) scheduler(ctx context.Context, method, action string) (*models.SchedulerStatus, error) {
	var out models.SchedulerStatus
	req := request{method: method, path: "/api/v1/scheduler/" + action, operator: true}
	if _, err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sync calls POST /api/v1/sync. An empty unit syncs every unit of the owner.
func (c *Client) Sync(ctx context.Context, owner, unit string) (*models.OwnerSyncResult, error) {
	var out models.OwnerSyncResult
	req := request{
		method:   http.MethodPost,
		path:     "/api/v1/sync",
		body:     models.SyncRequest{Owner: owner, Unit: unit},
		operator: true,
	}
	if _, err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resources calls GET /api/v1/resources. The second return value is the
// X-Data-Source header: "live" or "cache".
func (c *Client) Resources(ctx context.Context, owner string) (*models.ResourcesResponse, string, error) {
	var out models.ResourcesResponse
	req := request{
		method:   http.MethodGet,
		path:     "/api/v1/resources",
		query:    url.Values{"owner": {owner}},
		operator: true,
	}
	h, err := c.do(ctx, req, &out)
	if err != nil {
		return nil, "", err
	}
	return &out, h.Get("X-Data-Source"), nil
}

// Blocked calls GET /api/v1/security/blocked
func (c *Client) Blocked(ctx context.Context) ([]models.BlockedIP, error) {
	var out []models.BlockedIP
	req := request{method: http.MethodGet, path: "/api/v1/security/blocked", operator: true}
	if _, err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Unblock calls POST /api/v1/security/unblock
func (c *Client) Unblock(ctx context.Context, ip string) error {
	req := request{
		method:   http.MethodPost,
		path:     "/api/v1/security/unblock",
		body:     models.UnblockRequest{IP: ip},
		operator: true,
	}
	_, err := c.do(ctx, req, nil)
	return err
}
