// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"context"
	"time"

	"github.com/jeranaias/kbtasks/internal/adapters"
	"github.com/jeranaias/kbtasks/internal/events"
	"github.com/jeranaias/kbtasks/internal/metrics"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// Reconcile settles tasks left "running" by an interrupted process. Each
// is checked once against its remote service:
//
//   - finished remotely: the remote result is adopted
//   - still active remotely: back to pending, keeping its job so the next
//     execution re-attaches
//   - unknown or unreachable: back to pending with start time and job
//     cleared so the next execution submits again
//
// Start calls Reconcile before the first dispatch.
func (s *Scheduler) Reconcile(ctx context.Context) {
	for _, t := range s.store.List() {
		if t.Status != tasks.StatusRunning {
			continue
		}
		s.mu.Lock()
		_, active := s.inflight[t.ID]
		timeout := s.reconcileTimeout
		s.mu.Unlock()
		if active {
			continue
		}
		s.reconcileTask(ctx, t, timeout)
	}
}

func (s *Scheduler) reconcileTask(ctx context.Context, t tasks.Task, timeout time.Duration) {
	var snap adapters.Snapshot
	adapter, err := s.registry.Get(t.Type)
	if err == nil {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		snap, err = adapter.Check(cctx, t)
		cancel()
	}

	now := s.store.Now()
	p := tasks.Patch{Expect: []tasks.Status{tasks.StatusRunning}}
	var outcome string
	kind := events.KindReconciled

	switch {
	case err != nil:
		s.logger.Printf("Task %s: remote status unavailable (%v), will resubmit", t.ShortID(), err)
		p.Status = tasks.Ptr(tasks.StatusPending)
		p.ClearStartedAt = true
		p.ClearJobID = true
		outcome = "resubmit"

	case snap.State == adapters.StateCompleted:
		p.Status = tasks.Ptr(tasks.StatusCompleted)
		p.Progress = tasks.Ptr(100)
		p.CompletedAt = &now
		p.ClearError = true
		outcome = "completed"
		kind = events.KindCompleted

	case snap.State == adapters.StateFailed:
		msg := snap.Error
		if msg == "" {
			msg = "remote job failed"
		}
		p.Status = tasks.Ptr(tasks.StatusFailed)
		p.Error = &msg
		p.CompletedAt = &now
		outcome = "failed"
		kind = events.KindFailed

	case snap.State == adapters.StateCanceled:
		p.Status = tasks.Ptr(tasks.StatusCancelled)
		p.CompletedAt = &now
		outcome = "cancelled"
		kind = events.KindCancelled

	case snap.State == adapters.StateActive:
		p.Status = tasks.Ptr(tasks.StatusPending)
		outcome = "reattach"

	default:
		p.Status = tasks.Ptr(tasks.StatusPending)
		p.ClearStartedAt = true
		p.ClearJobID = true
		outcome = "resubmit"
	}

	updated, err := s.store.Update(t.ID, p)
	if err != nil {
		s.logger.Printf("Task %s: reconciliation skipped: %v", t.ShortID(), err)
		return
	}

	s.logger.Printf("Task %s: reconciled (%s)", updated.ShortID(), outcome)
	metrics.TasksReconciledTotal.WithLabelValues(outcome).Inc()
	s.emit(kind, updated)
	if updated.IsTerminal() {
		metrics.ObserveFinished(updated)
	}
}
