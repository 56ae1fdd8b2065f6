// Package browser provides a client for the headless browser sidecar service
// and the page-level driver the filing pipeline operates through.
package browser

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

	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// ErrElementNotFound is returned when a selector matches nothing on the page.
var ErrElementNotFound = errors.New("browser: element not found")

// ErrSessionGone means the sidecar no longer knows the session.
var ErrSessionGone = errors.New("browser: session not found")

// HealthResponse is the health check response from the sidecar.
type HealthResponse struct {
	Status       string `json:"status"` // ok, degraded, error
	Version      string `json:"version"`
	BrowserReady bool   `json:"browserReady"`
	Sessions     int    `json:"sessions"`
	Uptime       int    `json:"uptime"` // seconds
}

// actionRequest is the body of every session action call.
type actionRequest struct {
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	Key      string `json:"key,omitempty"`
	Checked  *bool  `json:"checked,omitempty"`
	FullPage bool   `json:"fullPage,omitempty"`
	Timeout  int    `json:"timeout,omitempty"` // milliseconds
}

// actionResponse is the sidecar's reply envelope.
type actionResponse struct {
	Success    bool     `json:"success"`
	Error      string   `json:"error,omitempty"`
	Code       string   `json:"code,omitempty"`
	SessionID  string   `json:"sessionId,omitempty"`
	Element    *Element `json:"element,omitempty"`
	Visible    bool     `json:"visible,omitempty"`
	Value      string   `json:"value,omitempty"`
	Text       string   `json:"text,omitempty"`
	HTML       string   `json:"html,omitempty"`
	URL        string   `json:"url,omitempty"`
	Screenshot string   `json:"screenshot,omitempty"` // base64 PNG
}

const codeElementNotFound = "element_not_found"

// Client is an HTTP client for the browser sidecar service.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	logger        *logging.Logger
	actionTimeout time.Duration
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithActionTimeout bounds how long the sidecar waits for a selector.
func WithActionTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.actionTimeout = d
	}
}

// NewClient creates a new browser sidecar client.
// baseURL should be the sidecar service URL (e.g., "http://localhost:3000" for sidecar).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger:        logging.Default(),
		actionTimeout: 15 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Health checks the health of the browser sidecar.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("browser: create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser: health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("browser: health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("browser: decode health response: %w", err)
	}

	return &health, nil
}

// IsReady checks if the browser sidecar is ready to accept requests.
func (c *Client) IsReady(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// OpenSession starts a fresh browser context on the sidecar.
func (c *Client) OpenSession(ctx context.Context) (*Session, error) {
	var out actionResponse
	if err := c.post(ctx, "/api/v1/sessions", actionRequest{}, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.SessionID == "" {
		return nil, fmt.Errorf("browser: open session failed: %s", out.Error)
	}
	c.logger.Debug("browser session opened", "session_id", out.SessionID)
	return &Session{id: out.SessionID, client: c}, nil
}

// CloseSession tears down a sidecar browser context.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/v1/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return fmt.Errorf("browser: create close request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("browser: close request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrSessionGone, sessionID)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("browser: close failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// action calls one session-scoped sidecar endpoint.
func (c *Client) action(ctx context.Context, sessionID, name string, req actionRequest) (*actionResponse, error) {
	if req.Timeout == 0 && c.actionTimeout > 0 {
		req.Timeout = int(c.actionTimeout / time.Millisecond)
	}
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/" + name

	var out actionResponse
	if err := c.post(ctx, path, req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		if out.Code == codeElementNotFound {
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, req.Selector)
		}
		return nil, fmt.Errorf("browser: %s failed: %s", name, out.Error)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out *actionResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("browser: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("browser: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("browser: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionGone
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("browser: request failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("browser: decode response: %w", err)
	}
	return nil
}
