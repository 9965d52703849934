// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapters

import (
	"context"
	"fmt"

	"github.com/jeranaias/kbtasks/internal/remote"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// KnowledgeBaseService is the part of the embedding API used for knowledge bases.
type KnowledgeBaseService interface {
	KnowledgeBaseStatus(ctx context.Context, kbID, operatorID string) (remote.KnowledgeBaseStatus, error)
	SubmitKnowledgeBase(ctx context.Context, kbID, operatorID string) error
}

// KnowledgeBaseAdapter embeds every document of a knowledge base.
type KnowledgeBaseAdapter struct {
	svc  KnowledgeBaseService
	opts Options
}

// NewKnowledgeBaseAdapter creates an adapter for embed-knowledge-base tasks.
func NewKnowledgeBaseAdapter(svc KnowledgeBaseService, opts Options) *KnowledgeBaseAdapter {
	return &KnowledgeBaseAdapter{svc: svc, opts: opts.withDefaults()}
}

// Type implements Adapter.
func (a *KnowledgeBaseAdapter) Type() tasks.Type {
	return tasks.TypeEmbedKnowledgeBase
}

// Execute implements Adapter. A knowledge base that still has pending
// documents is attached to rather than submitted again.
func (a *KnowledgeBaseAdapter) Execute(ctx context.Context, t tasks.Task, r Reporter) (tasks.Outcome, error) {
	data, ok := t.Data.(tasks.EmbedKnowledgeBaseData)
	if !ok {
		return payloadMismatch(t), nil
	}

	st, err := a.svc.KnowledgeBaseStatus(ctx, data.KnowledgeBaseID, data.OperatorID)
	if err != nil {
		return failure(ctx, err)
	}

	sawPending := st.HasPending()
	if sawPending {
		a.opts.Logger.Printf("Task %s: knowledge base %s has %d documents pending, attaching",
			t.ID, data.KnowledgeBaseID, st.Pending)
	} else {
		if err := a.svc.SubmitKnowledgeBase(ctx, data.KnowledgeBaseID, data.OperatorID); err != nil {
			return failure(ctx, err)
		}
	}

	idle := 0
	return pollUntilDone(ctx, a.Type(), a.opts, func(ctx context.Context) (step, error) {
		st, err := a.svc.KnowledgeBaseStatus(ctx, data.KnowledgeBaseID, data.OperatorID)
		if err != nil {
			return keepPolling, err
		}

		switch {
		case st.AllCompleted():
			r.Progress(st.Total, st.Total)
			return finished(tasks.Succeeded()), nil

		case st.Total == 0:
			// Nothing to embed.
			return finished(tasks.Succeeded()), nil

		case st.HasPending():
			sawPending = true
			r.Progress(st.Embedded, st.Total)
			return keepPolling, nil

		case st.Failed > 0:
			return finished(tasks.Failed(failedDocuments(st))), nil

		case sawPending:
			return finished(tasks.Failed(fmt.Sprintf("embedding interrupted: %d of %d documents embedded and none pending", st.Embedded, st.Total))), nil

		default:
			idle++
			if idle > a.opts.MaxIdlePolls {
				return finished(tasks.Failed("embedding did not start: no documents pending")), nil
			}
			return keepPolling, nil
		}
	})
}

// Check implements Adapter.
func (a *KnowledgeBaseAdapter) Check(ctx context.Context, t tasks.Task) (Snapshot, error) {
	data, ok := t.Data.(tasks.EmbedKnowledgeBaseData)
	if !ok {
		return Snapshot{}, fmt.Errorf("invalid %s payload", t.Type)
	}

	st, err := a.svc.KnowledgeBaseStatus(ctx, data.KnowledgeBaseID, data.OperatorID)
	if err != nil {
		return Snapshot{}, err
	}

	switch {
	case st.AllCompleted():
		return Snapshot{State: StateCompleted}, nil
	case st.HasPending():
		return Snapshot{State: StateActive}, nil
	case st.Failed > 0:
		return Snapshot{State: StateFailed, Error: failedDocuments(st)}, nil
	default:
		return Snapshot{State: StateUnknown}, nil
	}
}

func failedDocuments(st remote.KnowledgeBaseStatus) string {
	return fmt.Sprintf("%d of %d documents failed to embed", st.Failed, st.Total)
}
