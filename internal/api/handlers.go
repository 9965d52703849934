// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/kbtasks/internal/tasks"
)

// ============================================================================
// TYPES
// ============================================================================

// AddTaskRequest is the body of POST /api/tasks.
type AddTaskRequest struct {
	Type  tasks.Type      `json:"type"`
	Title string          `json:"title,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// TaskListResponse is returned by GET /api/tasks.
type TaskListResponse struct {
	Tasks  []tasks.Task         `json:"tasks"`
	Counts map[tasks.Status]int `json:"counts"`
}

// ClearResponse reports how many tasks a clear removed.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Uptime  string               `json:"uptime"`
	Tasks   map[tasks.Status]int `json:"tasks"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// StreamEvent is the SSE event name used for task snapshots.
const StreamEvent = "tasks"

// ============================================================================
// HEALTH
// ============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.RLock()
	version := s.version
	s.mu.RUnlock()

	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Tasks:   s.sched.Store().Counts(),
	})
}

// ============================================================================
// TASK HANDLERS
// ============================================================================

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, TaskListResponse{
		Tasks:  s.sched.Tasks(),
		Counts: s.sched.Store().Counts(),
	})
}

func (s *Server) handleGet(c *gin.Context) {
	t, err := s.sched.Task(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleAdd(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)

	var req AddTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error",
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		writeError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request format")
		return
	}

	data, err := tasks.DecodeData(req.Type, req.Data)
	if err != nil {
		fail(c, err)
		return
	}
	t, err := s.sched.AddTask(req.Type, req.Title, data)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) handleCancel(c *gin.Context) {
	t, err := s.sched.CancelTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleRetry(c *gin.Context) {
	t, err := s.sched.RetryTask(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handlePause(c *gin.Context) {
	if err := s.sched.PauseTask(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleResume(c *gin.Context) {
	if err := s.sched.ResumeTask(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRemove(c *gin.Context) {
	if err := s.sched.RemoveTask(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleClearCompleted(c *gin.Context) {
	c.JSON(http.StatusOK, ClearResponse{Removed: s.sched.ClearCompletedTasks()})
}

func (s *Server) handleClearAll(c *gin.Context) {
	c.JSON(http.StatusOK, ClearResponse{Removed: s.sched.ClearAllTasks(c.Request.Context())})
}

// ============================================================================
// STREAMING
// ============================================================================

// handleStream sends the task list as a server-sent event, then again after
// every store change, until the client goes away.
func (s *Server) handleStream(c *gin.Context) {
	changes, unsubscribe := s.sched.Store().Subscribe()
	defer unsubscribe()

	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(StreamEvent, s.sched.Tasks())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent(StreamEvent, s.sched.Tasks())
			return true
		}
	})
}
