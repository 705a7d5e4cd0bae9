package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the provider's public XRPC endpoint.
const DefaultBaseURL = "https://public.api.bsky.app"

// ClientConfig controls provider access.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// RPS throttles requests against the provider; zero disables
	// throttling.
	RPS   float64
	Burst int
}

// Client talks to the provider's JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// GetAuthorFeed fetches one page of an actor's authored posts.
func (c *Client) GetAuthorFeed(ctx context.Context, actor, cursor string, limit int) (*FeedPage, error) {
	params := url.Values{"actor": {actor}}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var page FeedPage
	if err := c.get(ctx, "/xrpc/app.bsky.feed.getAuthorFeed", params, &page); err != nil {
		return nil, fmt.Errorf("get author feed for %s: %w", actor, err)
	}
	return &page, nil
}

// GetLikes fetches one page of likes for a post URI.
func (c *Client) GetLikes(ctx context.Context, postURI, cursor string, limit int) (*LikesPage, error) {
	params := url.Values{"uri": {postURI}}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var page LikesPage
	if err := c.get(ctx, "/xrpc/app.bsky.feed.getLikes", params, &page); err != nil {
		return nil, fmt.Errorf("get likes for %s: %w", postURI, err)
	}
	return &page, nil
}

// GetProfile fetches an actor's profile.
func (c *Client) GetProfile(ctx context.Context, actor string) (*Profile, error) {
	params := url.Values{"actor": {actor}}
	var profile Profile
	if err := c.get(ctx, "/xrpc/app.bsky.actor.getProfile", params, &profile); err != nil {
		return nil, fmt.Errorf("get profile for %s: %w", actor, err)
	}
	return &profile, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
