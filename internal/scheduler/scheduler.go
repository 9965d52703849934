// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/kbtasks/internal/adapters"
	"github.com/jeranaias/kbtasks/internal/events"
	"github.com/jeranaias/kbtasks/internal/metrics"
	"github.com/jeranaias/kbtasks/internal/retry"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("scheduler already started")

	// ErrNotRetryable is returned when retrying a task that has not failed.
	ErrNotRetryable = errors.New("only failed tasks can be retried")

	// ErrNotRunning is returned when steering a task that is not running.
	ErrNotRunning = errors.New("task is not running")

	// ErrNotSupported is returned when a task type cannot be paused or resumed.
	ErrNotSupported = errors.New("operation not supported for this task type")
)

// Defaults for the scheduler's own timeouts.
const (
	DefaultReconcileTimeout = 10 * time.Second
	DefaultControlTimeout   = 10 * time.Second

	// eventBuffer bounds events waiting for the publisher.
	eventBuffer = 256

	// publishTimeout bounds delivery of one event.
	publishTimeout = 5 * time.Second
)

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler runs pending tasks one at a time, in list order.
type Scheduler struct {
	store    *tasks.Store
	registry *adapters.Registry

	publisher        events.Publisher
	events           chan events.Event
	logger           *log.Logger
	reconcileTimeout time.Duration
	controlTimeout   time.Duration
	operatorID       string

	// mu guards everything below. Always taken before the store's lock.
	mu       sync.Mutex
	policy   retry.Policy
	root     context.Context
	inflight map[string]context.CancelFunc

	wg sync.WaitGroup
}

// New creates a scheduler over store. Adapters are looked up in registry
// by task type.
func New(store *tasks.Store, registry *adapters.Registry, policy retry.Policy) *Scheduler {
	s := &Scheduler{
		store:            store,
		registry:         registry,
		policy:           policy,
		publisher:        events.Nop{},
		events:           make(chan events.Event, eventBuffer),
		logger:           log.New(io.Discard, "", 0),
		reconcileTimeout: DefaultReconcileTimeout,
		controlTimeout:   DefaultControlTimeout,
		inflight:         make(map[string]context.CancelFunc),
	}
	store.WithEvictionHandler(s.onEvict)
	return s
}

// WithLogger sets the logger.
func (s *Scheduler) WithLogger(l *log.Logger) *Scheduler {
	s.logger = l
	return s
}

// WithPublisher sets where lifecycle events are sent.
func (s *Scheduler) WithPublisher(p events.Publisher) *Scheduler {
	s.publisher = p
	return s
}

// WithReconcileTimeout bounds each startup status check.
func (s *Scheduler) WithReconcileTimeout(d time.Duration) *Scheduler {
	s.reconcileTimeout = d
	return s
}

// WithControlTimeout bounds remote cancel, pause and resume requests.
func (s *Scheduler) WithControlTimeout(d time.Duration) *Scheduler {
	s.controlTimeout = d
	return s
}

// WithOperatorID sets the operator used for new tasks that carry none.
func (s *Scheduler) WithOperatorID(id string) *Scheduler {
	s.operatorID = id
	return s
}

// Store returns the underlying task store.
func (s *Scheduler) Store() *tasks.Store {
	return s.store
}

// Start reconciles interrupted tasks, then begins dispatching. Work stops
// when ctx is cancelled; a task running at that moment stays "running" so
// the next Start reconciles it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.root != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.root = ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.publishLoop(ctx)

	s.Reconcile(ctx)
	s.logger.Printf("Scheduler started: %s", s.store.Summary())

	sub, unsubscribe := s.store.Subscribe()
	s.wg.Add(1)
	go s.loop(ctx, sub, unsubscribe)

	s.dispatch()
	return nil
}

// Wait blocks until the loop and every execution have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// loop dispatches after every store change.
func (s *Scheduler) loop(ctx context.Context, sub <-chan struct{}, unsubscribe func()) {
	defer s.wg.Done()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub:
			if !ok {
				return
			}
			metrics.SetStatusCounts(s.store.Counts())
			s.dispatch()
		}
	}
}

// dispatch starts the first pending task when nothing is running.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == nil || s.root.Err() != nil || len(s.inflight) > 0 {
		return
	}

	var next *tasks.Task
	for _, t := range s.store.List() {
		if t.Status == tasks.StatusRunning {
			// RELIABILITY: Never start a second task while one is marked running
			return
		}
		if next == nil && t.Status == tasks.StatusPending {
			next = &t
		}
	}
	if next == nil {
		return
	}

	adapter, err := s.registry.Get(next.Type)
	if err != nil {
		now := s.store.Now()
		msg := err.Error()
		if failed, uerr := s.store.Update(next.ID, tasks.Patch{
			Expect:      []tasks.Status{tasks.StatusPending},
			Status:      tasks.Ptr(tasks.StatusFailed),
			Error:       &msg,
			CompletedAt: &now,
		}); uerr == nil {
			s.emit(events.KindFailed, failed)
			metrics.ObserveFinished(failed)
		}
		return
	}

	now := s.store.Now()
	p := tasks.Patch{
		Expect:       []tasks.Status{tasks.StatusPending},
		Status:       tasks.Ptr(tasks.StatusRunning),
		ProgressData: tasks.NewProgressData(now, s.policy.MaxRetries),
	}
	if next.StartedAt == nil {
		p.StartedAt = &now
	}
	started, err := s.store.Update(next.ID, p)
	if err != nil {
		s.logger.Printf("Task %s: could not start: %v", next.ShortID(), err)
		return
	}

	ctx, cancel := context.WithCancel(s.root)
	s.inflight[started.ID] = cancel

	policy := s.policy
	if policy.Logger == nil {
		policy.Logger = s.logger
	}
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, msg string) {
		if onRetry != nil {
			onRetry(attempt, delay, msg)
		}
		metrics.TaskRetriesTotal.WithLabelValues(string(started.Type)).Inc()
		e := events.New(events.KindRetrying, started)
		e.Error = msg
		e.Attempt = attempt + 1
		s.publish(e)
	}

	s.logger.Printf("Task %s: started %s %q", started.ShortID(), started.Type, started.Title)
	s.emit(events.KindStarted, started)

	s.wg.Add(1)
	go s.run(ctx, cancel, adapter, started, policy)
}

// run executes a task under the retry policy and records the result.
func (s *Scheduler) run(ctx context.Context, cancel context.CancelFunc, adapter adapters.Adapter, task tasks.Task, policy retry.Policy) {
	defer s.wg.Done()
	defer cancel()

	rep := &reporter{s: s, id: task.ID, maxRetries: policy.MaxRetries}
	res := policy.Execute(ctx, func(ctx context.Context, attempt int) (tasks.Outcome, error) {
		current, ok := s.store.Get(task.ID)
		if !ok || current.Status != tasks.StatusRunning {
			return tasks.Outcome{}, tasks.ErrCanceled
		}
		if attempt > 0 {
			rep.setRetryCount(current, attempt)
		}

		out, err := adapter.Execute(ctx, current, rep)
		switch {
		case err != nil:
			metrics.TaskAttemptsTotal.WithLabelValues(string(task.Type), "canceled").Inc()
		case out.Success:
			metrics.TaskAttemptsTotal.WithLabelValues(string(task.Type), "success").Inc()
		default:
			metrics.TaskAttemptsTotal.WithLabelValues(string(task.Type), "failure").Inc()
		}
		return out, err
	})

	s.finish(task, res)
	s.dispatch()
}

// finish writes the terminal status for an execution.
func (s *Scheduler) finish(task tasks.Task, res retry.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, task.ID)

	if s.root.Err() != nil {
		s.logger.Printf("Task %s: shutting down, left running for reconciliation", task.ShortID())
		return
	}

	now := s.store.Now()
	p := tasks.Patch{
		Expect:      []tasks.Status{tasks.StatusRunning},
		CompletedAt: &now,
	}
	var kind events.Kind

	switch {
	case res.Canceled:
		p.Status = tasks.Ptr(tasks.StatusCancelled)
		kind = events.KindCancelled

	case res.Outcome.Success:
		p.Status = tasks.Ptr(tasks.StatusCompleted)
		p.Progress = tasks.Ptr(100)
		p.ClearError = true
		kind = events.KindCompleted

	default:
		msg := res.Outcome.Error
		if msg == "" {
			msg = "task failed"
		}
		p.Status = tasks.Ptr(tasks.StatusFailed)
		p.Error = &msg
		kind = events.KindFailed
	}

	updated, err := s.store.Update(task.ID, p)
	if err != nil {
		// Cancelled or removed by the user while finishing.
		return
	}

	s.logger.Printf("Task %s: %s after %d attempt(s)", updated.ShortID(), updated.Status, res.Attempts)
	e := events.New(kind, updated)
	e.Attempt = res.Attempts
	s.publish(e)
	metrics.ObserveFinished(updated)
}

// onEvict is called by the store after retention removes tasks.
func (s *Scheduler) onEvict(evicted []tasks.Task) {
	metrics.TasksEvictedTotal.Add(float64(len(evicted)))
	for _, t := range evicted {
		s.emit(events.KindRemoved, t)
	}
}

// =============================================================================
// PROGRESS REPORTING
// =============================================================================

// reporter writes adapter progress to the store.
type reporter struct {
	s          *Scheduler
	id         string
	maxRetries int
}

// Progress implements adapters.Reporter.
func (r *reporter) Progress(current, total int) {
	t, ok := r.s.store.Get(r.id)
	if !ok {
		return
	}
	now := r.s.store.Now()
	pd := t.ProgressData
	if pd == nil {
		pd = tasks.NewProgressData(now, r.maxRetries)
	}
	pd.Advance(current, total, now)

	r.update("progress", tasks.Patch{
		Expect:       []tasks.Status{tasks.StatusRunning},
		Progress:     tasks.Ptr(pd.Percent()),
		ProgressData: pd,
	})
}

// AttachJob implements adapters.Reporter.
func (r *reporter) AttachJob(jobID string) {
	if r.update("job", tasks.Patch{
		Expect: []tasks.Status{tasks.StatusRunning},
		JobID:  &jobID,
	}) {
		r.s.logger.Printf("Task %s: attached to remote job %s", r.id, jobID)
	}
}

// update applies p and reports whether it took effect. A task that was
// cancelled, paused or removed mid-attempt drops the update quietly.
func (r *reporter) update(what string, p tasks.Patch) bool {
	_, err := r.s.store.Update(r.id, p)
	switch {
	case err == nil:
		return true
	case errors.Is(err, tasks.ErrStatusConflict), errors.Is(err, tasks.ErrNotFound):
		return false
	default:
		r.s.logger.Printf("Task %s: %s update failed: %v", r.id, what, err)
		return false
	}
}

func (r *reporter) setRetryCount(t tasks.Task, attempt int) {
	pd := t.ProgressData
	if pd == nil {
		pd = tasks.NewProgressData(r.s.store.Now(), r.maxRetries)
	}
	pd.RetryCount = attempt
	r.update("retry count", tasks.Patch{
		Expect:       []tasks.Status{tasks.StatusRunning},
		ProgressData: pd,
	})
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *Scheduler) emit(kind events.Kind, t tasks.Task) {
	s.publish(events.New(kind, t))
}

// publish queues an event without blocking the caller.
func (s *Scheduler) publish(e events.Event) {
	select {
	case s.events <- e:
	default:
		s.logger.Printf("WARNING: event queue full, dropping %s event for task %s", e.Kind, e.TaskID)
	}
}

// publishLoop delivers queued events in order until ctx is done.
func (s *Scheduler) publishLoop(ctx context.Context) {
	defer s.wg.Done()

	deliver := func(e events.Event) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(pctx, e); err != nil {
			s.logger.Printf("WARNING: failed to publish %s event for task %s: %v", e.Kind, e.TaskID, err)
		}
	}

	for {
		select {
		case e := <-s.events:
			deliver(e)
		case <-ctx.Done():
			// Flush what is already queued.
			for {
				select {
				case e := <-s.events:
					deliver(e)
				default:
					return
				}
			}
		}
	}
}
