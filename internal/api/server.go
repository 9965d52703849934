// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/kbtasks/internal/scheduler"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is used when NewServer is given an empty address.
	DefaultAddr = "127.0.0.1:8090"

	// MaxRequestBodySize bounds task creation requests (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 10 * time.Second
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP control API for a scheduler.
type Server struct {
	addr    string
	sched   *scheduler.Scheduler
	logger  *log.Logger
	version string
	started time.Time

	token   string
	metrics bool
	limiter *RateLimiter

	mu     sync.RWMutex
	engine *gin.Engine
}

// NewServer creates a Server for sched listening on addr.
func NewServer(sched *scheduler.Scheduler, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		addr:    addr,
		sched:   sched,
		logger:  log.New(os.Stderr, "[api] ", log.LstdFlags),
		version: "dev",
		started: time.Now(),
		limiter: DefaultRateLimiter(),
	}
}

// WithLogger sets the logger for requests and lifecycle messages.
func (s *Server) WithLogger(l *log.Logger) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = l
	s.engine = nil
	return s
}

// WithToken requires token as a bearer token on /api routes.
// An empty token disables authentication.
func (s *Server) WithToken(token string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.engine = nil
	return s
}

// WithMetrics enables the /metrics endpoint.
func (s *Server) WithMetrics(enabled bool) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = enabled
	s.engine = nil
	return s
}

// WithRateLimiter replaces the per-client rate limiter. Nil disables limiting.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rl
	s.engine = nil
	return s
}

// WithVersion sets the version reported by /health.
func (s *Server) WithVersion(v string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the HTTP handler, building the router on first use.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		s.engine = s.setupRoutes()
	}
	return s.engine
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes builds the router. Callers hold s.mu.
func (s *Server) setupRoutes() *gin.Engine {
	r := gin.New()
	r.Use(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
	)

	r.GET("/health", s.handleHealth)
	if s.metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	if s.limiter != nil {
		api.Use(RateLimitMiddleware(s.limiter))
	}
	if s.token != "" {
		api.Use(AuthMiddleware(s.token, s.logger))
	}

	api.GET("/tasks", s.handleList)
	api.POST("/tasks", s.handleAdd)
	api.DELETE("/tasks", s.handleClearAll)
	api.GET("/tasks/stream", s.handleStream)
	api.POST("/tasks/clear-completed", s.handleClearCompleted)

	api.GET("/tasks/:id", s.handleGet)
	api.DELETE("/tasks/:id", s.handleRemove)
	api.POST("/tasks/:id/cancel", s.handleCancel)
	api.POST("/tasks/:id/retry", s.handleRetry)
	api.POST("/tasks/:id/pause", s.handlePause)
	api.POST("/tasks/:id/resume", s.handleResume)

	return r
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe listens on the configured address and serves until ctx is
// done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done. Open streams are closed on shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.RLock()
	logger, version := s.logger, s.version
	s.mu.RUnlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Printf("SERVER_START | addr=%s version=%s", ln.Addr(), version)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

// statusFor maps a scheduler or store error to an HTTP status and error type.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, scheduler.ErrNotRetryable),
		errors.Is(err, scheduler.ErrNotRunning),
		errors.Is(err, tasks.ErrStatusConflict),
		errors.Is(err, tasks.ErrDuplicateID):
		return http.StatusConflict, "conflict"
	case errors.Is(err, scheduler.ErrNotSupported),
		strings.HasPrefix(err.Error(), "invalid"):
		return http.StatusBadRequest, "invalid_request_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

// writeError writes a JSON error response.
func writeError(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{
		Message: message,
		Type:    errType,
		Code:    status,
	}})
}

// fail writes err with the status statusFor assigns it.
func fail(c *gin.Context, err error) {
	status, errType := statusFor(err)
	writeError(c, status, errType, err.Error())
}
