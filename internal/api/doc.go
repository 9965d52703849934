// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api exposes the task scheduler over HTTP.
//
// # Endpoints
//
//   - GET    /health                       - Liveness and task counts
//   - GET    /metrics                      - Prometheus metrics (when enabled)
//   - GET    /api/tasks                    - List tasks in dispatch order
//   - POST   /api/tasks                    - Add a task
//   - GET    /api/tasks/stream             - Server-sent task snapshots
//   - GET    /api/tasks/:id                - Get one task
//   - POST   /api/tasks/:id/cancel         - Cancel a pending or running task
//   - POST   /api/tasks/:id/retry          - Requeue a failed task
//   - POST   /api/tasks/:id/pause          - Pause a running crawl
//   - POST   /api/tasks/:id/resume         - Resume a paused crawl
//   - DELETE /api/tasks/:id                - Remove a task
//   - POST   /api/tasks/clear-completed    - Remove completed tasks
//   - DELETE /api/tasks                    - Remove every task
//
// Routes under /api require a bearer token when one is configured.
//
// # Usage
//
//	srv := api.NewServer(sched, cfg.Server.Addr).
//		WithToken(cfg.Server.AuthToken).
//		WithMetrics(cfg.Server.MetricsEnabled)
//	if err := srv.ListenAndServe(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Client is the typed counterpart used by the command line.
package api
