// Package analysis dispatches scoring work to the external models service.
// Calls are fire-and-forget: the service writes scores and freshness
// markers back to the database out-of-band.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ClientConfig controls access to the models service.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the models service over JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AnalyzeDomain asks the models service to score a domain.
func (c *Client) AnalyzeDomain(ctx context.Context, host string) error {
	if err := c.post(ctx, "/domains/analyze", map[string]string{"url": host}); err != nil {
		return fmt.Errorf("analyze domain %s: %w", host, err)
	}
	return nil
}

// AnalyzePost asks the models service to score a post.
func (c *Client) AnalyzePost(ctx context.Context, postID string) error {
	if err := c.post(ctx, "/posts/analyze", map[string]string{"id": postID}); err != nil {
		return fmt.Errorf("analyze post %s: %w", postID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("models service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	return nil
}
