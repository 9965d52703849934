// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus collectors for the task engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeranaias/kbtasks/internal/tasks"
)

var (
	// TasksFinishedTotal counts tasks reaching a terminal status.
	TasksFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbtasks_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal status",
		},
		[]string{"task_type", "status"}, // completed, failed, cancelled
	)

	// TaskAttemptsTotal counts execution attempts by result.
	TaskAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbtasks_task_attempts_total",
			Help: "Total number of execution attempts",
		},
		[]string{"task_type", "result"}, // success, failure, canceled
	)

	// TaskRetriesTotal counts scheduled retries.
	TaskRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbtasks_task_retries_total",
			Help: "Total number of retries scheduled after a failed attempt",
		},
		[]string{"task_type"},
	)

	// TaskDurationSeconds tracks wall time from start to terminal status.
	TaskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbtasks_task_duration_seconds",
			Help:    "Histogram of task duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"task_type"},
	)

	// RemotePollsTotal counts remote status checks.
	RemotePollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbtasks_remote_polls_total",
			Help: "Total number of remote status checks",
		},
		[]string{"task_type", "result"}, // ok, error
	)

	// RemoteCancelFailuresTotal counts remote jobs that may have been left running.
	RemoteCancelFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbtasks_remote_cancel_failures_total",
			Help: "Total number of failed remote cancellation requests",
		},
		[]string{"task_type"},
	)

	// TasksEvictedTotal counts tasks removed by the retention cap.
	TasksEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kbtasks_tasks_evicted_total",
			Help: "Total number of finished tasks evicted by retention",
		},
	)

	// TasksReconciledTotal counts startup reconciliation results.
	TasksReconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbtasks_tasks_reconciled_total",
			Help: "Total number of running tasks reconciled at startup",
		},
		[]string{"outcome"}, // completed, failed, cancelled, reattach, resubmit
	)

	// EventPublishFailuresTotal counts events a sink failed to deliver.
	EventPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbtasks_event_publish_failures_total",
			Help: "Total number of task events that failed to publish",
		},
		[]string{"sink"},
	)

	// Tasks is the current number of tasks by status.
	Tasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kbtasks_tasks",
			Help: "Current number of tasks by status",
		},
		[]string{"status"},
	)
)

// ObserveFinished records a terminal transition.
func ObserveFinished(t tasks.Task) {
	TasksFinishedTotal.WithLabelValues(string(t.Type), string(t.Status)).Inc()
	if d := t.Duration(); d > 0 {
		TaskDurationSeconds.WithLabelValues(string(t.Type)).Observe(d.Seconds())
	}
}

// ObservePoll records one remote status check.
func ObservePoll(typ tasks.Type, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	RemotePollsTotal.WithLabelValues(string(typ), result).Inc()
}

// SetStatusCounts publishes the current per-status task counts. Statuses
// absent from counts are reported as zero.
func SetStatusCounts(counts map[tasks.Status]int) {
	for _, s := range tasks.Statuses {
		Tasks.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

