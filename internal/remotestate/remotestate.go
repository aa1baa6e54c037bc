// Package remotestate is the outbound HTTP client that registers and
// deregisters a session with the configured frontend, so an externally
// running browser knows a terminal exists before anyone opens the
// RemoteConnection WebSocket to it.
//
// Grounded on deprecated/go-hub/internal/server.Client's
// http.NewRequestWithContext + JSON body + header-auth idiom, with the
// teacher's "Authorization: Bearer" swapped for this spec's
// "X-Api-Key" header.
package remotestate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// RegisterRequest is the JSON body for POST /api/v1/terminal.
type RegisterRequest struct {
	SessionID        string `json:"sessionId"`
	CLI              string `json:"cli"`
	WorkingDirectory string `json:"workingDirectory"`
	EnvironmentName  string `json:"environmentName,omitempty"`
	Title            string `json:"title,omitempty"`
	HostURL          string `json:"hostUrl"`
}

// DeregisterRequest is the JSON body for DELETE /api/v1/terminal.
type DeregisterRequest struct {
	SessionID string `json:"sessionId"`
}

// Client registers/deregisters sessions against a frontend's remote
// state API. Failures are logged and swallowed (spec.md §7: Transient).
type Client struct {
	frontendURL string
	apiKey      string
	httpClient  *http.Client
	logger      *slog.Logger
}

// New creates a Client for frontendURL, authenticated with apiKey.
func New(frontendURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		frontendURL: strings.TrimRight(frontendURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

// Register tells the frontend a session exists. Failures are logged and
// ignored per spec.md §6 ("Failures are logged and ignored").
func (c *Client) Register(ctx context.Context, req RegisterRequest) {
	if err := c.do(ctx, http.MethodPost, req); err != nil {
		c.logger.Warn("remote state register failed", "session_id", req.SessionID, "error", err)
	}
}

// Deregister tells the frontend a session ended.
func (c *Client) Deregister(ctx context.Context, sessionID string) {
	if err := c.do(ctx, http.MethodDelete, DeregisterRequest{SessionID: sessionID}); err != nil {
		c.logger.Warn("remote state deregister failed", "session_id", sessionID, "error", err)
	}
}

func (c *Client) do(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	url := c.frontendURL + "/api/v1/terminal"
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
}
