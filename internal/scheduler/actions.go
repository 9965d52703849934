// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/kbtasks/internal/adapters"
	"github.com/jeranaias/kbtasks/internal/backoff"
	"github.com/jeranaias/kbtasks/internal/config"
	"github.com/jeranaias/kbtasks/internal/events"
	"github.com/jeranaias/kbtasks/internal/metrics"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// =============================================================================
// QUERIES
// =============================================================================

// Tasks returns a snapshot of every task in dispatch order.
func (s *Scheduler) Tasks() []tasks.Task {
	return s.store.List()
}

// Task returns one task.
func (s *Scheduler) Task(id string) (tasks.Task, error) {
	t, ok := s.store.Get(id)
	if !ok {
		return tasks.Task{}, fmt.Errorf("%w: %s", tasks.ErrNotFound, id)
	}
	return t, nil
}

// =============================================================================
// USER ACTIONS
// =============================================================================

// AddTask appends a pending task. An empty title is derived from the payload.
func (s *Scheduler) AddTask(typ tasks.Type, title string, data tasks.Data) (tasks.Task, error) {
	if data == nil {
		return tasks.Task{}, errors.New("invalid task: missing data")
	}
	if data.Type() != typ {
		return tasks.Task{}, fmt.Errorf("invalid task: %s payload for %s task", data.Type(), typ)
	}

	data = withOperator(data, s.operatorID)
	if title == "" {
		title = DefaultTitle(data)
	}

	t, err := tasks.NewTask(title, data)
	if err != nil {
		return tasks.Task{}, err
	}
	if _, err := s.store.Add(t); err != nil {
		return tasks.Task{}, err
	}

	s.logger.Printf("Task %s: added %s %q", t.ShortID(), t.Type, t.Title)
	s.emit(events.KindAdded, t)
	return t, nil
}

// CancelTask cancels a pending or running task. Cancelling a finished task
// is a no-op that returns it unchanged. A running task's execution is
// stopped and its remote job, if any, is asked to stop.
func (s *Scheduler) CancelTask(ctx context.Context, id string) (tasks.Task, error) {
	s.mu.Lock()
	t, ok := s.store.Get(id)
	if !ok {
		s.mu.Unlock()
		return tasks.Task{}, fmt.Errorf("%w: %s", tasks.ErrNotFound, id)
	}
	if t.IsTerminal() {
		s.mu.Unlock()
		return t, nil
	}

	now := s.store.Now()
	updated, err := s.store.Update(id, tasks.Patch{
		Expect:      []tasks.Status{tasks.StatusPending, tasks.StatusRunning},
		Status:      tasks.Ptr(tasks.StatusCancelled),
		CompletedAt: &now,
	})
	if err != nil {
		s.mu.Unlock()
		return tasks.Task{}, err
	}
	if cancel, ok := s.inflight[id]; ok {
		cancel()
	}
	s.mu.Unlock()

	s.logger.Printf("Task %s: cancelled", updated.ShortID())
	s.emit(events.KindCancelled, updated)
	metrics.ObserveFinished(updated)

	if t.Status == tasks.StatusRunning {
		s.cancelRemote(ctx, updated)
	}
	return updated, nil
}

// RetryTask moves a failed task back to pending, keeping its position.
func (s *Scheduler) RetryTask(id string) (tasks.Task, error) {
	updated, err := s.store.Update(id, tasks.Patch{
		Expect:            []tasks.Status{tasks.StatusFailed},
		Status:            tasks.Ptr(tasks.StatusPending),
		Progress:          tasks.Ptr(0),
		ClearError:        true,
		ClearCompletedAt:  true,
		ClearStartedAt:    true,
		ClearProgressData: true,
		ClearJobID:        true,
	})
	if errors.Is(err, tasks.ErrStatusConflict) {
		t, _ := s.store.Get(id)
		return tasks.Task{}, fmt.Errorf("%w: task is %s", ErrNotRetryable, t.Status)
	}
	if err != nil {
		return tasks.Task{}, err
	}

	s.logger.Printf("Task %s: queued for retry", updated.ShortID())
	s.emit(events.KindRequeued, updated)
	return updated, nil
}

// RemoveTask deletes a task, stopping it first if it is running.
func (s *Scheduler) RemoveTask(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.store.Get(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", tasks.ErrNotFound, id)
	}
	s.store.Remove(id)
	if cancel, ok := s.inflight[id]; ok {
		cancel()
	}
	s.mu.Unlock()

	s.emit(events.KindRemoved, t)
	if t.Status == tasks.StatusRunning {
		s.cancelRemote(ctx, t)
	}
	return nil
}

// ClearCompletedTasks removes every completed task and returns how many
// were removed. Failed and cancelled tasks stay for inspection.
func (s *Scheduler) ClearCompletedTasks() int {
	n := s.store.RemoveWhere(func(t tasks.Task) bool {
		return t.Status == tasks.StatusCompleted
	})
	if n > 0 {
		s.logger.Printf("Cleared %d completed task(s)", n)
	}
	return n
}

// ClearAllTasks stops the running task, if any, and removes every task.
func (s *Scheduler) ClearAllTasks(ctx context.Context) int {
	s.mu.Lock()
	var running []tasks.Task
	for _, t := range s.store.List() {
		if t.Status == tasks.StatusRunning {
			running = append(running, t)
		}
	}
	n := s.store.RemoveWhere(func(tasks.Task) bool { return true })
	for _, cancel := range s.inflight {
		cancel()
	}
	s.mu.Unlock()

	for _, t := range running {
		s.cancelRemote(ctx, t)
	}
	if n > 0 {
		s.logger.Printf("Cleared all %d task(s)", n)
	}
	return n
}

// PauseTask pauses the remote job of a running task.
func (s *Scheduler) PauseTask(ctx context.Context, id string) error {
	return s.control(ctx, id, adapters.Controller.PauseRemote)
}

// ResumeTask resumes the remote job of a paused task.
func (s *Scheduler) ResumeTask(ctx context.Context, id string) error {
	return s.control(ctx, id, adapters.Controller.ResumeRemote)
}

func (s *Scheduler) control(ctx context.Context, id string, op func(adapters.Controller, context.Context, tasks.Task) error) error {
	t, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", tasks.ErrNotFound, id)
	}
	if t.Status != tasks.StatusRunning {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, t.ShortID(), t.Status)
	}
	ctrl, err := s.controller(t.Type)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.controlTimeout)
	defer cancel()
	return op(ctrl, ctx, t)
}

func (s *Scheduler) controller(typ tasks.Type) (adapters.Controller, error) {
	adapter, err := s.registry.Get(typ)
	if err != nil {
		return nil, err
	}
	ctrl, ok := adapter.(adapters.Controller)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, typ)
	}
	return ctrl, nil
}

// cancelRemote asks the remote service to stop a task's job. Failure is
// logged and counted; the remote job may keep running.
func (s *Scheduler) cancelRemote(ctx context.Context, t tasks.Task) {
	ctrl, err := s.controller(t.Type)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.controlTimeout)
	defer cancel()

	err = ctrl.CancelRemote(ctx, t)
	switch {
	case err == nil:
		s.logger.Printf("Task %s: remote job %s cancelled", t.ShortID(), t.JobID)
	case errors.Is(err, adapters.ErrNoRemoteJob):
	default:
		metrics.RemoteCancelFailuresTotal.WithLabelValues(string(t.Type)).Inc()
		s.logger.Printf("WARNING: Task %s: remote job %s may still be running: %v", t.ShortID(), t.JobID, err)
	}
}

// =============================================================================
// TUNABLES
// =============================================================================

// ApplyTunables applies retention and retry settings. A task already
// running keeps the policy it started with.
func (s *Scheduler) ApplyTunables(cfg config.EngineConfig) {
	s.mu.Lock()
	s.policy.MaxRetries = cfg.MaxRetries
	s.policy.Backoff = backoff.Retry{Base: cfg.RetryBaseDelay(), Factor: cfg.RetryBackoffFactor}
	s.reconcileTimeout = cfg.ReconcileTimeout()
	s.mu.Unlock()

	s.store.SetRetentionCap(cfg.RetentionCap)
	s.logger.Printf("Applied engine settings: retention=%d retries=%d", cfg.RetentionCap, cfg.MaxRetries)
}

// =============================================================================
// HELPERS
// =============================================================================

// DefaultTitle describes a payload for display.
func DefaultTitle(data tasks.Data) string {
	switch d := data.(type) {
	case tasks.EmbedDocumentData:
		return "Embed document " + d.DocumentID
	case tasks.EmbedKnowledgeBaseData:
		return "Embed knowledge base " + d.KnowledgeBaseID
	case tasks.CrawlWebpageData:
		return "Crawl " + d.URL
	default:
		return string(data.Type())
	}
}

// withOperator fills an empty operator ID.
func withOperator(data tasks.Data, operatorID string) tasks.Data {
	if operatorID == "" {
		return data
	}
	switch d := data.(type) {
	case tasks.EmbedDocumentData:
		if d.OperatorID == "" {
			d.OperatorID = operatorID
		}
		return d
	case tasks.EmbedKnowledgeBaseData:
		if d.OperatorID == "" {
			d.OperatorID = operatorID
		}
		return d
	case tasks.CrawlWebpageData:
		if d.OperatorID == "" {
			d.OperatorID = operatorID
		}
		return d
	}
	return data
}
