// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/kbtasks/internal/scheduler"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// DefaultClientTimeout bounds a single API call.
const DefaultClientTimeout = 30 * time.Second

// Client calls a running control API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the server at addr. A bare host:port is
// treated as http.
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: DefaultClientTimeout},
	}
}

// WithToken sets the bearer token sent with every request.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// ERRORS
// ============================================================================

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Is lets callers match server errors against the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case tasks.ErrNotFound:
		return e.Status == http.StatusNotFound
	case scheduler.ErrNotRetryable:
		return e.Status == http.StatusConflict && strings.Contains(e.Message, scheduler.ErrNotRetryable.Error())
	case scheduler.ErrNotRunning:
		return e.Status == http.StatusConflict && strings.Contains(e.Message, scheduler.ErrNotRunning.Error())
	}
	return false
}

// ============================================================================
// CALLS
// ============================================================================

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// ListTasks returns every task in dispatch order with per-status counts.
func (c *Client) ListTasks(ctx context.Context) (TaskListResponse, error) {
	var out TaskListResponse
	err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &out)
	return out, err
}

// GetTask returns one task.
func (c *Client) GetTask(ctx context.Context, id string) (tasks.Task, error) {
	var out tasks.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+id, nil, &out)
	return out, err
}

// AddTask queues a task. An empty title is derived by the server.
func (c *Client) AddTask(ctx context.Context, title string, data tasks.Data) (tasks.Task, error) {
	if data == nil {
		return tasks.Task{}, errors.New("invalid task: missing data")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return tasks.Task{}, fmt.Errorf("encode payload: %w", err)
	}
	var out tasks.Task
	err = c.do(ctx, http.MethodPost, "/api/tasks", AddTaskRequest{Type: data.Type(), Title: title, Data: raw}, &out)
	return out, err
}

// CancelTask cancels a pending or running task.
func (c *Client) CancelTask(ctx context.Context, id string) (tasks.Task, error) {
	var out tasks.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+id+"/cancel", nil, &out)
	return out, err
}

// RetryTask requeues a failed task.
func (c *Client) RetryTask(ctx context.Context, id string) (tasks.Task, error) {
	var out tasks.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+id+"/retry", nil, &out)
	return out, err
}

// PauseTask pauses a running task's remote job.
func (c *Client) PauseTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+id+"/pause", nil, nil)
}

// ResumeTask resumes a paused remote job.
func (c *Client) ResumeTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+id+"/resume", nil, nil)
}

// RemoveTask deletes a task.
func (c *Client) RemoveTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+id, nil, nil)
}

// ClearCompleted removes completed tasks and returns how many were removed.
func (c *Client) ClearCompleted(ctx context.Context) (int, error) {
	var out ClearResponse
	err := c.do(ctx, http.MethodPost, "/api/tasks/clear-completed", nil, &out)
	return out.Removed, err
}

// ClearAll removes every task and returns how many were removed.
func (c *Client) ClearAll(ctx context.Context) (int, error) {
	var out ClearResponse
	err := c.do(ctx, http.MethodDelete, "/api/tasks", nil, &out)
	return out.Removed, err
}

// Watch follows the task stream, calling fn with every snapshot until ctx
// is done, the server closes the stream, or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func([]tasks.Task) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tasks/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// The stream outlives any per-request timeout.
	hc := *c.httpClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("GET /api/tasks/stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: resp.Status}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if event == StreamEvent && data != "" {
				var list []tasks.Task
				if err := json.Unmarshal([]byte(data), &list); err != nil {
					return fmt.Errorf("decode task stream: %w", err)
				}
				if err := fn(list); err != nil {
					return err
				}
			}
			event, data = "", ""
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

// ============================================================================
// TRANSPORT
// ============================================================================

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
		var er ErrorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&er) == nil && er.Error.Message != "" {
			apiErr.Type = er.Error.Type
			apiErr.Message = er.Error.Message
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
