// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/kbtasks/internal/remote"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// CrawlService is the part of the crawler API used by crawl tasks.
type CrawlService interface {
	SubmitCrawl(ctx context.Context, req remote.CrawlRequest) (remote.CrawlAccepted, error)
	CrawlStatus(ctx context.Context, jobID string) (remote.CrawlJob, error)
	CancelCrawl(ctx context.Context, jobID string) (remote.JobControlResponse, error)
	PauseCrawl(ctx context.Context, jobID string) (remote.JobControlResponse, error)
	ResumeCrawl(ctx context.Context, jobID string) (remote.JobControlResponse, error)
}

// CrawlAdapter crawls webpages into a knowledge base.
type CrawlAdapter struct {
	svc  CrawlService
	opts Options
}

// NewCrawlAdapter creates an adapter for crawl-webpage tasks.
func NewCrawlAdapter(svc CrawlService, opts Options) *CrawlAdapter {
	return &CrawlAdapter{svc: svc, opts: opts.withDefaults()}
}

// Type implements Adapter.
func (a *CrawlAdapter) Type() tasks.Type {
	return tasks.TypeCrawlWebpage
}

// crawlRequest builds the crawler request for a payload.
func crawlRequest(d tasks.CrawlWebpageData) remote.CrawlRequest {
	d = d.WithDefaults()
	return remote.CrawlRequest{
		URL:              d.URL,
		Mode:             d.Mode,
		KnowledgeBaseID:  d.KnowledgeBaseID,
		SourceLabel:      d.SourceLabel,
		MaxDepth:         d.MaxDepth,
		MaxPages:         d.MaxPages,
		WebhookURL:       d.WebhookURL,
		UserID:           d.OperatorID,
		UseAI:            d.UseAI,
		ExtractionMode:   d.ExtractionMode,
		ExtractionPrompt: d.ExtractionPrompt,
		Preset:           d.Preset,
		CSSSelector:      d.CSSSelector,
		ExcludedSelector: d.ExcludedSelector,
		ForceReanalyze:   d.ForceReanalyze,
	}
}

// reportCrawl converts crawler progress to current/total.
func reportCrawl(r Reporter, job remote.CrawlJob) {
	if job.TotalPages != nil && *job.TotalPages > 0 {
		r.Progress(job.PagesCrawled, *job.TotalPages)
		return
	}
	r.Progress(int(job.Progress), 100)
}

// Execute implements Adapter. A task that already owns a live job is
// re-attached to it instead of starting a second crawl.
func (a *CrawlAdapter) Execute(ctx context.Context, t tasks.Task, r Reporter) (tasks.Outcome, error) {
	data, ok := t.Data.(tasks.CrawlWebpageData)
	if !ok {
		return payloadMismatch(t), nil
	}

	jobID := t.JobID
	sawRunning := false

	if jobID != "" {
		job, err := a.svc.CrawlStatus(ctx, jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			return tasks.Outcome{}, tasks.ErrCanceled
		case err != nil && !errors.Is(err, remote.ErrNotFound):
			return tasks.Failed(err.Error()), nil
		case err != nil:
			a.opts.Logger.Printf("Task %s: crawl job %s no longer exists, resubmitting", t.ID, jobID)
			jobID = ""
		case job.Status == remote.CrawlCompleted:
			reportCrawl(r, job)
			return tasks.Succeeded(), nil
		case job.Status.Terminal():
			a.opts.Logger.Printf("Task %s: previous crawl job %s ended %s, resubmitting", t.ID, jobID, job.Status)
			jobID = ""
		default:
			a.opts.Logger.Printf("Task %s: attaching to crawl job %s (%s)", t.ID, jobID, job.Status)
			sawRunning = job.Status == remote.CrawlRunning
		}
	}

	if jobID == "" {
		accepted, err := a.svc.SubmitCrawl(ctx, crawlRequest(data))
		if err != nil {
			return failure(ctx, err)
		}
		jobID = accepted.JobID
		r.AttachJob(jobID)
	}

	idle := 0
	return pollUntilDone(ctx, a.Type(), a.opts, func(ctx context.Context) (step, error) {
		job, err := a.svc.CrawlStatus(ctx, jobID)
		if err != nil {
			return keepPolling, err
		}

		switch job.Status {
		case remote.CrawlCompleted:
			reportCrawl(r, job)
			return finished(tasks.Succeeded()), nil

		case remote.CrawlFailed:
			msg := job.Error
			if msg == "" {
				msg = "crawl failed"
			}
			return finished(tasks.FailedTerminal(msg)), nil

		case remote.CrawlCancelled:
			return finished(tasks.FailedTerminal("crawl job cancelled on crawler service")), nil

		case remote.CrawlRunning:
			sawRunning = true
			reportCrawl(r, job)
			return keepPolling, nil

		case remote.CrawlPaused:
			return keepPolling, nil

		default:
			if sawRunning {
				return finished(tasks.Failed("crawl interrupted: job reverted to " + string(job.Status))), nil
			}
			idle++
			if idle > a.opts.MaxIdlePolls {
				return finished(tasks.Failed(fmt.Sprintf("crawl did not start: job still %s", job.Status))), nil
			}
			return keepPolling, nil
		}
	})
}

// Check implements Adapter.
func (a *CrawlAdapter) Check(ctx context.Context, t tasks.Task) (Snapshot, error) {
	if t.JobID == "" {
		return Snapshot{State: StateUnknown}, nil
	}

	job, err := a.svc.CrawlStatus(ctx, t.JobID)
	if errors.Is(err, remote.ErrNotFound) {
		return Snapshot{State: StateUnknown}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}

	switch job.Status {
	case remote.CrawlCompleted:
		return Snapshot{State: StateCompleted}, nil
	case remote.CrawlFailed:
		msg := job.Error
		if msg == "" {
			msg = "crawl failed"
		}
		return Snapshot{State: StateFailed, Error: msg}, nil
	case remote.CrawlCancelled:
		return Snapshot{State: StateCanceled}, nil
	default:
		return Snapshot{State: StateActive}, nil
	}
}

// =============================================================================
// CONTROLLER
// =============================================================================

// CancelRemote implements Controller.
func (a *CrawlAdapter) CancelRemote(ctx context.Context, t tasks.Task) error {
	if t.JobID == "" {
		return ErrNoRemoteJob
	}
	_, err := a.svc.CancelCrawl(ctx, t.JobID)
	return err
}

// PauseRemote implements Controller.
func (a *CrawlAdapter) PauseRemote(ctx context.Context, t tasks.Task) error {
	if t.JobID == "" {
		return ErrNoRemoteJob
	}
	_, err := a.svc.PauseCrawl(ctx, t.JobID)
	return err
}

// ResumeRemote implements Controller.
func (a *CrawlAdapter) ResumeRemote(ctx context.Context, t tasks.Task) error {
	if t.JobID == "" {
		return ErrNoRemoteJob
	}
	_, err := a.svc.ResumeCrawl(ctx, t.JobID)
	return err
}
