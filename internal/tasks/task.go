// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks provides the task model and the persistent task store.
package tasks

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TASK TYPE
// =============================================================================

// Type identifies which remote operation a task drives.
type Type string

const (
	// TypeEmbedDocument embeds a single document.
	TypeEmbedDocument Type = "embed-document"

	// TypeEmbedKnowledgeBase embeds every document of a knowledge base.
	TypeEmbedKnowledgeBase Type = "embed-knowledge-base"

	// TypeCrawlWebpage crawls a URL into a knowledge base.
	TypeCrawlWebpage Type = "crawl-webpage"
)

// Types lists every supported task type.
var Types = []Type{TypeEmbedDocument, TypeEmbedKnowledgeBase, TypeCrawlWebpage}

// Valid reports whether t is one of the supported task types.
func (t Type) Valid() bool {
	switch t {
	case TypeEmbedDocument, TypeEmbedKnowledgeBase, TypeCrawlWebpage:
		return true
	}
	return false
}

// String returns the string representation of the task type.
func (t Type) String() string {
	return string(t)
}

// =============================================================================
// TASK STATUS
// =============================================================================

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusPending indicates the task is waiting to be dispatched
	StatusPending Status = "pending"

	// StatusRunning indicates the task is currently executing
	StatusRunning Status = "running"

	// StatusCompleted indicates the task finished successfully
	StatusCompleted Status = "completed"

	// StatusFailed indicates the task exhausted its retries or hit a terminal error
	StatusFailed Status = "failed"

	// StatusCancelled indicates the task was cancelled by the user
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is completed, failed or cancelled.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// String returns the string representation of the task status.
func (s Status) String() string {
	return string(s)
}

// =============================================================================
// OUTCOME
// =============================================================================

// ErrCanceled is returned by an execution when its context was cancelled.
// It is an abort signal, not a failure, and never consumes a retry.
var ErrCanceled = errors.New("task execution canceled")

// Outcome is the local result of one execution attempt.
type Outcome struct {
	Success bool
	Error   string

	// Terminal marks a failure the remote service reported as final.
	// Such failures are never retried regardless of their message.
	Terminal bool
}

// Succeeded returns a successful outcome.
func Succeeded() Outcome {
	return Outcome{Success: true}
}

// Failed returns a failed outcome carrying msg.
func Failed(msg string) Outcome {
	return Outcome{Error: msg}
}

// FailedTerminal returns a failed outcome that must not be retried.
func FailedTerminal(msg string) Outcome {
	return Outcome{Error: msg, Terminal: true}
}

// =============================================================================
// PROGRESS
// =============================================================================

// ProgressData is the fine-grained progress record of a running task.
type ProgressData struct {
	Current        int       `json:"current"`
	Total          int       `json:"total"`
	Speed          float64   `json:"speed"`
	ETA            float64   `json:"eta"`
	StartTime      time.Time `json:"startTime"`
	LastUpdateTime time.Time `json:"lastUpdateTime"`
	RetryCount     int       `json:"retryCount"`
	MaxRetries     int       `json:"maxRetries"`
}

// NewProgressData returns a baseline progress record stamped at now.
func NewProgressData(now time.Time, maxRetries int) *ProgressData {
	return &ProgressData{
		StartTime:      now,
		LastUpdateTime: now,
		MaxRetries:     maxRetries,
	}
}

// Advance records current/total at now and recomputes speed (units per
// second since StartTime) and ETA (seconds remaining at that speed).
func (p *ProgressData) Advance(current, total int, now time.Time) {
	p.Current = current
	p.Total = total
	p.LastUpdateTime = now

	elapsed := now.Sub(p.StartTime).Seconds()
	if elapsed > 0 && current > 0 {
		p.Speed = float64(current) / elapsed
	} else {
		p.Speed = 0
	}

	if p.Speed > 0 && total > current {
		p.ETA = float64(total-current) / p.Speed
	} else {
		p.ETA = 0
	}
}

// Percent returns current/total as an integer percentage in [0, 100].
func (p *ProgressData) Percent() int {
	if p == nil || p.Total <= 0 {
		return 0
	}
	pct := p.Current * 100 / p.Total
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// =============================================================================
// TASK STRUCTURE
// =============================================================================

// Task is a unit of remote work tracked by the store.
// Tasks are plain values; the store hands out copies and owns the originals.
type Task struct {
	// ID is a unique identifier for this task
	ID string

	// Type selects the execution adapter
	Type Type

	// Status is the current lifecycle state
	Status Status

	// Title is a human-readable label
	Title string

	// Data is the type-specific payload; its Type() always equals Type
	Data Data

	// Progress is a percentage (0-100)
	Progress int

	// ProgressData is set once the task is dispatched
	ProgressData *ProgressData

	// Error holds the last failure message
	Error string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// JobID is the remote job identifier, once one is known
	JobID string
}

// =============================================================================
// TASK CREATION
// =============================================================================

// NewTask creates a pending task for the given payload.
func NewTask(title string, data Data) (Task, error) {
	if data == nil {
		return Task{}, fmt.Errorf("invalid task: missing data")
	}
	if err := data.Validate(); err != nil {
		return Task{}, err
	}
	return Task{
		ID:        uuid.New().String(),
		Type:      data.Type(),
		Status:    StatusPending,
		Title:     title,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// =============================================================================
// TASK METHODS
// =============================================================================

// IsTerminal returns true if the task has finished (success, failure, or cancellation).
func (t Task) IsTerminal() bool {
	return t.Status.Terminal()
}

// Duration returns how long the task has been running or took to complete.
func (t Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	if t.CompletedAt == nil {
		return time.Since(*t.StartedAt)
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// ShortID returns the first eight characters of the ID.
func (t Task) ShortID() string {
	if len(t.ID) > 8 {
		return t.ID[:8]
	}
	return t.ID
}

// Summary returns a one-line summary of the task.
func (t Task) Summary() string {
	summary := fmt.Sprintf("[%s] %s - %s", t.ShortID(), t.Title, t.Status)
	if d := t.Duration(); d > 0 {
		summary += fmt.Sprintf(" (%.1fs)", d.Seconds())
	}
	return summary
}

// Clone returns a copy that shares no mutable state with t.
// Data variants are value types and are copied by assignment.
func (t Task) Clone() Task {
	c := t
	if t.ProgressData != nil {
		pd := *t.ProgressData
		c.ProgressData = &pd
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}
