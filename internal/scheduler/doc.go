// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scheduler runs tasks from the store one at a time.
//
// The scheduler watches the store and, whenever nothing is running, starts
// the first pending task in list order. Each execution runs its adapter
// under the retry policy in its own goroutine with a cancellable context;
// the result is written back as completed, failed or cancelled. User
// actions (add, cancel, retry, remove, clear) go through the scheduler so
// cancellation reaches the running execution and its remote job.
//
// # Key Types
//
//   - Scheduler: Dispatch loop and user actions
//
// # Usage
//
//	sched := scheduler.New(store, registry, retry.DefaultPolicy()).
//	    WithLogger(logger).
//	    WithPublisher(pub)
//	if err := sched.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	task, err := sched.AddTask(tasks.TypeEmbedDocument, "", tasks.EmbedDocumentData{DocumentID: "doc-1"})
//	...
//	cancel()
//	sched.Wait()
package scheduler
