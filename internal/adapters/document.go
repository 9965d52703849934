// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapters

import (
	"context"
	"fmt"

	"github.com/jeranaias/kbtasks/internal/remote"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// DocumentService is the part of the embedding API used for documents.
type DocumentService interface {
	DocumentStatus(ctx context.Context, documentID, operatorID string) (remote.DocumentStatus, error)
	SubmitDocument(ctx context.Context, documentID, operatorID string) error
}

// DocumentAdapter embeds a single document.
type DocumentAdapter struct {
	svc  DocumentService
	opts Options
}

// NewDocumentAdapter creates an adapter for embed-document tasks.
func NewDocumentAdapter(svc DocumentService, opts Options) *DocumentAdapter {
	return &DocumentAdapter{svc: svc, opts: opts.withDefaults()}
}

// Type implements Adapter.
func (a *DocumentAdapter) Type() tasks.Type {
	return tasks.TypeEmbedDocument
}

// Execute implements Adapter. A document that is already processing is
// attached to rather than submitted again.
func (a *DocumentAdapter) Execute(ctx context.Context, t tasks.Task, r Reporter) (tasks.Outcome, error) {
	data, ok := t.Data.(tasks.EmbedDocumentData)
	if !ok {
		return payloadMismatch(t), nil
	}

	st, err := a.svc.DocumentStatus(ctx, data.DocumentID, data.OperatorID)
	if err != nil {
		return failure(ctx, err)
	}

	sawProcessing := st.Status == remote.DocumentProcessing
	if sawProcessing {
		a.opts.Logger.Printf("Task %s: document %s already processing, attaching", t.ID, data.DocumentID)
	} else {
		if err := a.svc.SubmitDocument(ctx, data.DocumentID, data.OperatorID); err != nil {
			return failure(ctx, err)
		}
	}

	idle := 0
	return pollUntilDone(ctx, a.Type(), a.opts, func(ctx context.Context) (step, error) {
		st, err := a.svc.DocumentStatus(ctx, data.DocumentID, data.OperatorID)
		if err != nil {
			return keepPolling, err
		}

		switch st.Status {
		case remote.DocumentCompleted:
			if st.ChunkCount != nil {
				r.Progress(*st.ChunkCount, *st.ChunkCount)
			}
			return finished(tasks.Succeeded()), nil

		case remote.DocumentFailed:
			msg := st.Error
			if msg == "" {
				msg = "document embedding failed"
			}
			return finished(tasks.FailedTerminal(msg)), nil

		case remote.DocumentProcessing:
			sawProcessing = true
			return keepPolling, nil

		default:
			if sawProcessing {
				return finished(tasks.Failed(fmt.Sprintf("embedding interrupted: document reverted to %s", st.Status))), nil
			}
			idle++
			if idle > a.opts.MaxIdlePolls {
				return finished(tasks.Failed(fmt.Sprintf("embedding did not start: document still %s", st.Status))), nil
			}
			return keepPolling, nil
		}
	})
}

// Check implements Adapter.
func (a *DocumentAdapter) Check(ctx context.Context, t tasks.Task) (Snapshot, error) {
	data, ok := t.Data.(tasks.EmbedDocumentData)
	if !ok {
		return Snapshot{}, fmt.Errorf("invalid %s payload", t.Type)
	}

	st, err := a.svc.DocumentStatus(ctx, data.DocumentID, data.OperatorID)
	if err != nil {
		return Snapshot{}, err
	}

	switch st.Status {
	case remote.DocumentCompleted:
		return Snapshot{State: StateCompleted}, nil
	case remote.DocumentFailed:
		msg := st.Error
		if msg == "" {
			msg = "document embedding failed"
		}
		return Snapshot{State: StateFailed, Error: msg}, nil
	case remote.DocumentProcessing:
		return Snapshot{State: StateActive}, nil
	default:
		return Snapshot{State: StateUnknown}, nil
	}
}
