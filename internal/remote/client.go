// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package remote provides HTTP clients for the embedding and crawler services.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Configuration constants for the remote services.
const (
	// DefaultEmbeddingURL is the base URL of the embedding API.
	DefaultEmbeddingURL = "http://localhost:3000/api"

	// DefaultCrawlerURL is the base URL of the crawler service.
	DefaultCrawlerURL = "http://localhost:8000"

	// DefaultTimeout is the default timeout for a single request.
	DefaultTimeout = 30 * time.Second

	// DefaultRequestsPerSecond bounds outbound request rate across all tasks.
	DefaultRequestsPerSecond = 5.0

	// DefaultBurst is the limiter burst size.
	DefaultBurst = 10

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 1 * 1024 * 1024
)

// Error variables for remote failures. Their text is what retry
// classification sees, so terminal conditions use terminal wording.
var (
	// ErrInvalidRequest indicates the service rejected the request (400/422).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized indicates missing or bad credentials (401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPermissionDenied indicates the operator may not act on the resource (403).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the resource or job does not exist (404).
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates the service throttled the request (429).
	ErrRateLimited = errors.New("rate limited")
)

// ServerError is returned for unexpected (mostly 5xx) responses.
type ServerError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("server error (HTTP %d): %s", e.Status, e.Message)
}

// PERFORMANCE: Connection pooling reduces TCP handshake overhead on status polls.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: timeout,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the embedding API and the crawler service.
type Client struct {
	embeddingURL string
	crawlerURL   string
	operatorID   string
	apiKey       string
	userAgent    string

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewClient creates a client for the given service base URLs.
// Empty URLs fall back to the defaults.
func NewClient(embeddingURL, crawlerURL string) *Client {
	if embeddingURL == "" {
		embeddingURL = DefaultEmbeddingURL
	}
	if crawlerURL == "" {
		crawlerURL = DefaultCrawlerURL
	}
	return &Client{
		embeddingURL: strings.TrimSuffix(embeddingURL, "/"),
		crawlerURL:   strings.TrimSuffix(crawlerURL, "/"),
		userAgent:    "kbtasks/1.0",
		httpClient:   newHTTPClient(DefaultTimeout),
		limiter:      rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultBurst),
		logger:       log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// WithOperatorID sets the operator used when a payload does not name one.
func (c *Client) WithOperatorID(id string) *Client {
	c.operatorID = strings.TrimSpace(id)
	return c
}

// WithAPIKey sets a bearer token sent on every request.
func (c *Client) WithAPIKey(key string) *Client {
	c.apiKey = strings.TrimSpace(key)
	return c
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
	return c
}

// WithRateLimit sets the outbound request rate. rps <= 0 disables limiting.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l *log.Logger) *Client {
	c.logger = l
	return c
}

// operator returns id, or the client default when id is empty.
func (c *Client) operator(id string) string {
	if id != "" {
		return id
	}
	return c.operatorID
}

// =============================================================================
// REQUESTS
// =============================================================================

// logRequest logs an API request without headers or body.
func (c *Client) logRequest(req *http.Request) {
	c.logger.Printf("API Request: %s %s", req.Method, req.URL.Path)
}

// logResponse logs an API response with duration.
func (c *Client) logResponse(req *http.Request, resp *http.Response, duration time.Duration) {
	c.logger.Printf("API Response: %s %s -> %d (%v)", req.Method, req.URL.Path, resp.StatusCode, duration.Round(time.Millisecond))
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, requestURL string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("request failed: %w", err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return fmt.Errorf("invalid request url: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logRequest(req)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logResponse(req, resp, time.Since(start))

	data, err := readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return handleErrorResponse(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// errorBody covers the error shapes used by both services.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (e errorBody) text() string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Message != "":
		return e.Message
	default:
		return e.Detail
	}
}

// handleErrorResponse converts HTTP error responses to Go errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var eb errorBody
	msg := ""
	if err := json.Unmarshal(body, &eb); err == nil {
		msg = eb.text()
	} else {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}

	var sentinel error
	switch statusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		sentinel = ErrInvalidRequest
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusForbidden:
		sentinel = ErrPermissionDenied
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	default:
		return &ServerError{Status: statusCode, Message: msg}
	}

	if msg == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}
