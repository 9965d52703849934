// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks provides the task model and the persistent task store.
//
// A task drives one remote operation (embedding a document, embedding a
// knowledge base, or crawling a webpage) through the lifecycle
// pending -> running -> completed | failed | cancelled.
//
// # Key Types
//
//   - Task: A plain value describing one unit of remote work
//   - Data: Tagged payload (EmbedDocumentData, EmbedKnowledgeBaseData, CrawlWebpageData)
//   - Store: Ordered, persisted task list with change notifications
//   - Retention: Bounds the number of terminal tasks kept
//
// # Usage
//
// Create a store and add a task:
//
//	store := tasks.NewStore(persister, 50)
//	if err := store.Load(ctx); err != nil {
//	    log.Printf("Starting with empty task list: %v", err)
//	}
//	task, _ := tasks.NewTask("Embed handbook", tasks.EmbedDocumentData{DocumentID: "doc-1"})
//	store.Add(task)
//
// Watch for changes:
//
//	changes, stop := store.Subscribe()
//	defer stop()
//	for range changes {
//	    fmt.Println(store.Summary())
//	}
package tasks
