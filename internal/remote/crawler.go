// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// =============================================================================
// CRAWLER SERVICE
// =============================================================================

// CrawlState is the state of a crawl job on the crawler service.
type CrawlState string

const (
	CrawlPending   CrawlState = "pending"
	CrawlRunning   CrawlState = "running"
	CrawlPaused    CrawlState = "paused"
	CrawlCompleted CrawlState = "completed"
	CrawlFailed    CrawlState = "failed"
	CrawlCancelled CrawlState = "cancelled"
)

// Terminal reports whether the job will not change state again.
func (s CrawlState) Terminal() bool {
	return s == CrawlCompleted || s == CrawlFailed || s == CrawlCancelled
}

// CrawlRequest is the body of POST /crawl/async.
type CrawlRequest struct {
	URL              string `json:"url"`
	Mode             string `json:"mode"`
	KnowledgeBaseID  string `json:"kb_id"`
	SourceLabel      string `json:"source_label,omitempty"`
	MaxDepth         int    `json:"max_depth"`
	MaxPages         int    `json:"max_pages"`
	WebhookURL       string `json:"webhook_url,omitempty"`
	UserID           string `json:"user_id,omitempty"`
	UseAI            bool   `json:"use_ai"`
	ExtractionMode   string `json:"extraction_mode,omitempty"`
	ExtractionPrompt string `json:"extraction_prompt,omitempty"`
	Preset           string `json:"preset,omitempty"`
	CSSSelector      string `json:"css_selector,omitempty"`
	ExcludedSelector string `json:"excluded_selector,omitempty"`
	ForceReanalyze   bool   `json:"force_reanalyze"`
}

// CrawlAccepted is the response to a crawl submission.
type CrawlAccepted struct {
	JobID   string     `json:"job_id"`
	Status  CrawlState `json:"status"`
	Message string     `json:"message,omitempty"`
}

// CrawlJob is the status of a crawl job.
type CrawlJob struct {
	JobID        string     `json:"job_id"`
	Status       CrawlState `json:"status"`
	Progress     float64    `json:"progress"`
	PagesCrawled int        `json:"pages_crawled"`
	TotalPages   *int       `json:"total_pages,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    string     `json:"created_at,omitempty"`
	CompletedAt  string     `json:"completed_at,omitempty"`
}

// JobControlResponse is returned by the cancel, pause and resume endpoints.
type JobControlResponse struct {
	Success bool       `json:"success"`
	JobID   string     `json:"job_id"`
	Status  CrawlState `json:"status"`
	Message string     `json:"message,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// SubmitCrawl starts an asynchronous crawl job.
func (c *Client) SubmitCrawl(ctx context.Context, req CrawlRequest) (CrawlAccepted, error) {
	if req.UserID == "" {
		req.UserID = c.operatorID
	}

	var accepted CrawlAccepted
	if err := c.do(ctx, http.MethodPost, c.crawlerURL+"/crawl/async", req, &accepted); err != nil {
		return CrawlAccepted{}, fmt.Errorf("submit crawl of %s: %w", req.URL, err)
	}
	if accepted.JobID == "" {
		return CrawlAccepted{}, fmt.Errorf("submit crawl of %s: crawler returned no job id", req.URL)
	}
	return accepted, nil
}

// CrawlStatus returns the status of a crawl job.
func (c *Client) CrawlStatus(ctx context.Context, jobID string) (CrawlJob, error) {
	var job CrawlJob
	if err := c.do(ctx, http.MethodGet, c.crawlerURL+"/crawl/job/"+url.PathEscape(jobID), nil, &job); err != nil {
		return CrawlJob{}, fmt.Errorf("crawl job %s status: %w", jobID, err)
	}
	return job, nil
}

// CancelCrawl asks the crawler to stop a job.
func (c *Client) CancelCrawl(ctx context.Context, jobID string) (JobControlResponse, error) {
	return c.controlCrawl(ctx, jobID, "cancel")
}

// PauseCrawl asks the crawler to pause a job.
func (c *Client) PauseCrawl(ctx context.Context, jobID string) (JobControlResponse, error) {
	return c.controlCrawl(ctx, jobID, "pause")
}

// ResumeCrawl asks the crawler to resume a paused job.
func (c *Client) ResumeCrawl(ctx context.Context, jobID string) (JobControlResponse, error) {
	return c.controlCrawl(ctx, jobID, "resume")
}

func (c *Client) controlCrawl(ctx context.Context, jobID, action string) (JobControlResponse, error) {
	u := fmt.Sprintf("%s/crawl/job/%s/%s", c.crawlerURL, url.PathEscape(jobID), action)

	var resp JobControlResponse
	if err := c.do(ctx, http.MethodPost, u, nil, &resp); err != nil {
		return JobControlResponse{}, fmt.Errorf("%s crawl job %s: %w", action, jobID, err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		return resp, fmt.Errorf("%s crawl job %s rejected: %s", action, jobID, msg)
	}
	return resp, nil
}
