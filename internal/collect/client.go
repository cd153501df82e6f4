// Package collect is the client for the remote scraping service that gathers search
// results and social timelines for the collector stage.
package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonathan/viral-agents/internal/throttle"
)

// ServiceName identifies the collection service in throttling errors and metrics.
const ServiceName = "sela"

// Defaults
const (
	DefaultTimeout      = 60 * time.Second
	DefaultMinSpacing   = 2 * time.Second
	DefaultResetIn      = 10 * time.Second
	ThrottlePadding     = 2 * time.Second
	DefaultPostCount    = MaxPosts
	defaultScrollPause  = 2000
	transportAllowance  = 10 * time.Second
	maxResponseBodySize = 8 << 20
)

// Mode selects what is collected for a target.
type Mode string

// Collection modes
const (
	ModeWebSearch       Mode = "web_search"
	ModeProfileTimeline Mode = "profile_timeline"
)

// Config configures the client.
type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	MinSpacing time.Duration
}

// Client calls the scraping service. Calls are spaced by a politeness limiter shared by
// every caller of the same Client.
type Client struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("collection endpoint is required")
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid collection endpoint: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinSpacing < 0 {
		cfg.MinSpacing = 0
	}

	limit := rate.Inf
	if cfg.MinSpacing > 0 {
		limit = rate.Every(cfg.MinSpacing)
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout + transportAllowance},
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

type scrapeRequest struct {
	URL             string `json:"url"`
	ScrapeType      string `json:"scrapeType"`
	PostCount       int    `json:"postCount,omitempty"`
	TimeoutMs       int64  `json:"timeoutMs"`
	ScrollPauseTime int    `json:"scrollPauseTime,omitempty"`
}

// Collect gathers results for target. For ModeWebSearch target is a query; for
// ModeProfileTimeline it is an account handle.
func (c *Client) Collect(ctx context.Context, target string, mode Mode) (*Result, error) {
	req, err := c.buildRequest(target, mode)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeWebSearch:
		return ParseSearch(body)
	default:
		return ParseSocial(body)
	}
}

func (c *Client) buildRequest(target string, mode Mode) (*scrapeRequest, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("collection target is required")
	}

	req := &scrapeRequest{TimeoutMs: c.timeout.Milliseconds()}
	switch mode {
	case ModeWebSearch:
		req.URL = "https://www.google.com/search?tbm=nws&q=" + url.QueryEscape(target)
		req.ScrapeType = "HTML"
	case ModeProfileTimeline:
		req.URL = "https://twitter.com/" + url.PathEscape(strings.TrimPrefix(target, "@"))
		req.ScrapeType = "TWITTER_PROFILE"
		req.PostCount = DefaultPostCount
		req.ScrollPauseTime = defaultScrollPause
	default:
		return nil, fmt.Errorf("unknown collection mode %q", mode)
	}
	return req, nil
}

func (c *Client) post(ctx context.Context, payload *scrapeRequest) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Cause: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		cause := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		return nil, throttle.New(ServiceName, throttleDelay(body), DefaultResetIn+ThrottlePadding, cause)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// throttleDelay converts data.resetIn (milliseconds) into whole seconds plus padding.
func throttleDelay(body []byte) time.Duration {
	var payload struct {
		Data struct {
			ResetIn *float64 `json:"resetIn"`
		} `json:"data"`
	}
	resetIn := DefaultResetIn
	if err := json.Unmarshal(body, &payload); err == nil && payload.Data.ResetIn != nil && *payload.Data.ResetIn >= 0 {
		resetIn = time.Duration(*payload.Data.ResetIn * float64(time.Millisecond))
	}
	seconds := math.Ceil(resetIn.Seconds())
	return time.Duration(seconds)*time.Second + ThrottlePadding
}

// IsTransient reports whether err is worth retrying as a whole stage: throttling,
// transport failures and 5xx responses.
func IsTransient(err error) bool {
	if throttle.Is(err) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 0 || apiErr.StatusCode >= 500
	}
	return false
}
