// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ============================================================================
// Authentication Middleware
// ============================================================================

// AuthMiddleware rejects requests whose Authorization header does not carry
// token as a bearer token. Returns 401 Unauthorized on failure.
func AuthMiddleware(token string, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			logger.Printf("AUTH_DENIED | ip=%s reason=missing_auth_header", c.ClientIP())
			writeError(c, http.StatusUnauthorized, "unauthorized", "Unauthorized")
			return
		}
		if !strings.HasPrefix(header, "Bearer ") {
			logger.Printf("AUTH_DENIED | ip=%s reason=invalid_auth_format", c.ClientIP())
			writeError(c, http.StatusUnauthorized, "unauthorized", "Unauthorized")
			return
		}
		if !ValidateBearerToken(strings.TrimPrefix(header, "Bearer "), token) {
			logger.Printf("AUTH_DENIED | ip=%s reason=invalid_token", c.ClientIP())
			writeError(c, http.StatusUnauthorized, "unauthorized", "Unauthorized")
			return
		}
		c.Next()
	}
}

// ValidateBearerToken compares tokens in constant time.
// Returns false if either token is empty.
func ValidateBearerToken(token, expected string) bool {
	if token == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// ============================================================================
// Rate Limiter
// ============================================================================

// RateLimiter holds a token bucket per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// idleClientTTL is how long an unused client bucket is kept.
const idleClientTTL = 10 * time.Minute

// NewRateLimiter allows rps requests per second per client with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
}

// DefaultRateLimiter returns a RateLimiter allowing 20 requests per second
// with a burst of 40.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(20, 40)
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cl, ok := rl.limiters[ip]
	if !ok {
		rl.pruneLocked(now)
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// pruneLocked drops buckets idle for longer than idleClientTTL.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	for ip, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > idleClientTTL {
			delete(rl.limiters, ip)
		}
	}
}

// RateLimitMiddleware returns 429 Too Many Requests once a client exceeds
// its bucket.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%g", float64(limiter.limit)))
		if !limiter.Allow(ip) {
			c.Header("Retry-After", "1")
			log.Printf("RATE_LIMIT_EXCEEDED | ip=%s limit=%g", ip, float64(limiter.limit))
			writeError(c, http.StatusTooManyRequests, "rate_limited", "Too Many Requests")
			return
		}
		c.Next()
	}
}

// ============================================================================
// Request Logging Middleware
// ============================================================================

// LoggingMiddleware logs every request.
//
// Log format: "POST /api/tasks | 201 | 0.004s"
func LoggingMiddleware(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Printf("%s %s | %d | %.3fs",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start).Seconds(),
		)
	}
}

// ============================================================================
// Security Headers Middleware
// ============================================================================

// SecurityHeadersMiddleware adds defensive response headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// ============================================================================
// Recovery Middleware
// ============================================================================

// RecoveryMiddleware turns a handler panic into a 500 response and logs the
// stack trace.
func RecoveryMiddleware(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Printf("PANIC_RECOVERED | method=%s path=%s error=%v\n%s",
					c.Request.Method,
					c.Request.URL.Path,
					err,
					string(debug.Stack()),
				)
				writeError(c, http.StatusInternalServerError, "server_error", "Internal Server Error")
			}
		}()
		c.Next()
	}
}
