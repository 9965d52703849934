// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jeranaias/kbtasks/internal/metrics"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// Kind names a task lifecycle event.
type Kind string

const (
	KindAdded      Kind = "added"
	KindStarted    Kind = "started"
	KindRetrying   Kind = "retrying"
	KindCompleted  Kind = "completed"
	KindFailed     Kind = "failed"
	KindCancelled  Kind = "cancelled"
	KindRequeued   Kind = "requeued"
	KindRemoved    Kind = "removed"
	KindReconciled Kind = "reconciled"
)

// Event describes one task lifecycle change.
type Event struct {
	Kind     Kind         `json:"kind"`
	TaskID   string       `json:"taskId"`
	TaskType tasks.Type   `json:"taskType,omitempty"`
	Status   tasks.Status `json:"status,omitempty"`
	Title    string       `json:"title,omitempty"`
	Error    string       `json:"error,omitempty"`
	Attempt  int          `json:"attempt,omitempty"`
	Time     time.Time    `json:"time"`
}

// New builds an event from a task snapshot.
func New(kind Kind, t tasks.Task) Event {
	return Event{
		Kind:     kind,
		TaskID:   t.ID,
		TaskType: t.Type,
		Status:   t.Status,
		Title:    t.Title,
		Error:    t.Error,
		Time:     time.Now().UTC(),
	}
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events to an external sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e Event) error
	Close() error
}

// =============================================================================
// NOP
// =============================================================================

// Nop discards every event.
type Nop struct{}

// Name implements Publisher.
func (Nop) Name() string { return "nop" }

// Publish implements Publisher.
func (Nop) Publish(ctx context.Context, e Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// =============================================================================
// MULTI
// =============================================================================

// Multi fans an event out to several publishers. A failing sink does not
// stop delivery to the others.
type Multi []Publisher

// Name implements Publisher.
func (m Multi) Name() string { return "multi" }

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			metrics.EventPublishFailuresTotal.WithLabelValues(p.Name()).Inc()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Publisher.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Name implements Publisher.
func (r *Recorder) Name() string { return "recorder" }

// Publish implements Publisher.
func (r *Recorder) Publish(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded kinds for one task, in order.
func (r *Recorder) Kinds(taskID string) []Kind {
	var kinds []Kind
	for _, e := range r.Events() {
		if e.TaskID == taskID {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}
