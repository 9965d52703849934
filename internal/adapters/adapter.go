// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/jeranaias/kbtasks/internal/backoff"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// ErrNoRemoteJob is returned by controller operations on a task that has
// no remote job yet.
var ErrNoRemoteJob = errors.New("task has no remote job")

// =============================================================================
// INTERFACES
// =============================================================================

// Reporter receives progress from a running execution. The scheduler
// implements it and performs the store writes.
type Reporter interface {
	// Progress records current of total units done.
	Progress(current, total int)

	// AttachJob records the remote job identifier.
	AttachJob(jobID string)
}

// Adapter drives one task type against its remote service.
type Adapter interface {
	Type() tasks.Type

	// Execute runs one attempt: ensure the remote job exists, poll it to a
	// final state, and map that state to an outcome. It returns
	// tasks.ErrCanceled (and no outcome) when ctx is cancelled.
	Execute(ctx context.Context, t tasks.Task, r Reporter) (tasks.Outcome, error)

	// Check queries the remote state once, without submitting anything.
	Check(ctx context.Context, t tasks.Task) (Snapshot, error)
}

// Controller is implemented by adapters whose remote jobs can be steered.
type Controller interface {
	CancelRemote(ctx context.Context, t tasks.Task) error
	PauseRemote(ctx context.Context, t tasks.Task) error
	ResumeRemote(ctx context.Context, t tasks.Task) error
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// RemoteState is the remote view of a task, used for reconciliation.
type RemoteState int

const (
	// StateUnknown means there is no usable remote job.
	StateUnknown RemoteState = iota

	// StateActive means the remote job is still in progress.
	StateActive

	// StateCompleted means the remote job finished successfully.
	StateCompleted

	// StateFailed means the remote job failed.
	StateFailed

	// StateCanceled means the remote job was cancelled.
	StateCanceled
)

// String returns the state name.
func (s RemoteState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Snapshot is the result of Adapter.Check.
type Snapshot struct {
	State RemoteState
	Error string
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options are shared by all adapters.
type Options struct {
	Poll backoff.Poll

	// Sleep waits between polls. Nil uses backoff.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// MaxPollErrors is the number of consecutive status-check errors
	// tolerated before the attempt fails.
	MaxPollErrors int

	// MaxIdlePolls bounds how long a submitted job may show no sign of
	// starting before the attempt fails.
	MaxIdlePolls int

	// OnPoll is called after every status check with the task type and
	// whether the check succeeded.
	OnPoll func(typ tasks.Type, ok bool)

	Logger *log.Logger
}

// DefaultOptions returns the default adapter options.
func DefaultOptions() Options {
	return Options{
		Poll:          backoff.DefaultPoll(),
		MaxPollErrors: 3,
		MaxIdlePolls:  10,
	}
}

func (o Options) withDefaults() Options {
	if o.Sleep == nil {
		o.Sleep = backoff.Sleep
	}
	if o.Poll.Initial <= 0 {
		o.Poll = backoff.DefaultPoll()
	}
	if o.MaxIdlePolls <= 0 {
		o.MaxIdlePolls = 10
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	return o
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps task types to adapters.
type Registry struct {
	adapters map[tasks.Type]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(list ...Adapter) *Registry {
	r := &Registry{adapters: make(map[tasks.Type]Adapter, len(list))}
	for _, a := range list {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Type().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Type()] = a
}

// Get returns the adapter for typ.
func (r *Registry) Get(typ tasks.Type) (Adapter, error) {
	a, ok := r.adapters[typ]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for task type %q", typ)
	}
	return a, nil
}

// failure maps an error from a remote call to an outcome, or to the abort
// signal when the execution context is done.
func failure(ctx context.Context, err error) (tasks.Outcome, error) {
	if ctx.Err() != nil {
		return tasks.Outcome{}, tasks.ErrCanceled
	}
	return tasks.Failed(err.Error()), nil
}

// payloadMismatch is returned when a task carries the wrong payload variant.
func payloadMismatch(t tasks.Task) tasks.Outcome {
	return tasks.FailedTerminal(fmt.Sprintf("invalid %s payload", t.Type))
}
