// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry decides whether a failed task attempt is retried and runs
// attempts with exponential delays in between.
package retry

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/kbtasks/internal/backoff"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 3

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Class is the retry classification of an error message.
type Class int

const (
	// Retryable errors may succeed on a later attempt.
	Retryable Class = iota

	// Terminal errors will fail again no matter how often they are retried.
	Terminal
)

// String returns the class name.
func (c Class) String() string {
	if c == Terminal {
		return "terminal"
	}
	return "retryable"
}

// terminalPatterns mark errors that retrying cannot fix (matched case-insensitively).
var terminalPatterns = []string{
	"permission denied",
	"not found",
	"invalid",
	"unauthorized",
	"forbidden",
}

// Classify returns Terminal when msg contains a terminal pattern.
func Classify(msg string) Class {
	lower := strings.ToLower(msg)
	for _, p := range terminalPatterns {
		if strings.Contains(lower, p) {
			return Terminal
		}
	}
	return Retryable
}

// ShouldRetry reports whether outcome o may be retried.
func ShouldRetry(o tasks.Outcome) bool {
	if o.Success || o.Terminal {
		return false
	}
	return Classify(o.Error) == Retryable
}

// =============================================================================
// POLICY
// =============================================================================

// AttemptFunc runs one attempt. attempt starts at 0. Returning
// tasks.ErrCanceled (or a context error) aborts without consuming a retry.
type AttemptFunc func(ctx context.Context, attempt int) (tasks.Outcome, error)

// Result is the final result of Execute.
type Result struct {
	Outcome  tasks.Outcome
	Attempts int
	Canceled bool
}

// Policy runs attempts with exponential delays.
type Policy struct {
	// MaxRetries is the number of retries allowed after the first attempt.
	MaxRetries int

	Backoff backoff.Retry

	// Sleep waits between attempts. Nil uses backoff.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each wait with the failed attempt number,
	// the delay and the error message.
	OnRetry func(attempt int, delay time.Duration, msg string)

	Logger *log.Logger
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		Backoff:    backoff.DefaultRetry(),
	}
}

// Execute runs fn until it succeeds, fails terminally, runs out of retries,
// or ctx is cancelled.
func (p Policy) Execute(ctx context.Context, fn AttemptFunc) Result {
	return p.executeWithRetry(ctx, fn, 0)
}

func (p Policy) executeWithRetry(ctx context.Context, fn AttemptFunc, attempt int) Result {
	if ctx.Err() != nil {
		return Result{Attempts: attempt, Canceled: true}
	}

	outcome, err := fn(ctx, attempt)
	if err != nil {
		if isCancel(err) || ctx.Err() != nil {
			return Result{Attempts: attempt + 1, Canceled: true}
		}
		// An attempt that errors without mapping to an outcome is a plain failure.
		outcome = tasks.Failed(err.Error())
	}

	if outcome.Success {
		return Result{Outcome: outcome, Attempts: attempt + 1}
	}

	if !ShouldRetry(outcome) || attempt >= p.MaxRetries {
		return Result{Outcome: outcome, Attempts: attempt + 1}
	}

	delay := p.Backoff.Delay(attempt)
	if p.OnRetry != nil {
		p.OnRetry(attempt, delay, outcome.Error)
	}
	if p.Logger != nil {
		p.Logger.Printf("Attempt %d failed (%s), retrying in %v", attempt+1, outcome.Error, delay)
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = backoff.Sleep
	}
	if err := sleep(ctx, delay); err != nil {
		return Result{Outcome: outcome, Attempts: attempt + 1, Canceled: true}
	}

	return p.executeWithRetry(ctx, fn, attempt+1)
}

func isCancel(err error) bool {
	return errors.Is(err, tasks.ErrCanceled) || errors.Is(err, context.Canceled)
}
