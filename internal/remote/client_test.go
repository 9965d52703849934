// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/kbtasks/internal/retry"
)

func newTestClient(server *httptest.Server) *Client {
	return NewClient(server.URL, server.URL).
		WithRateLimit(0, 0).
		WithLogger(log.New(io.Discard, "", 0))
}

// =============================================================================
// EMBEDDING TESTS
// =============================================================================

func TestDocumentStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/documents/doc 1/embedding" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("operatorId"); got != "op-7" {
			t.Errorf("expected operatorId op-7, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"completed","chunkCount":12}`))
	}))
	defer server.Close()

	client := newTestClient(server).WithOperatorID("op-7")
	st, err := client.DocumentStatus(context.Background(), "doc 1", "")
	if err != nil {
		t.Fatalf("DocumentStatus failed: %v", err)
	}
	if st.Status != DocumentCompleted {
		t.Errorf("expected completed, got %s", st.Status)
	}
	if st.ChunkCount == nil || *st.ChunkCount != 12 {
		t.Errorf("expected chunkCount 12, got %v", st.ChunkCount)
	}
}

func TestSubmitDocumentSendsOperator(t *testing.T) {
	var body operatorBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestClient(server).WithOperatorID("default-op")
	if err := client.SubmitDocument(context.Background(), "d1", "payload-op"); err != nil {
		t.Fatalf("SubmitDocument failed: %v", err)
	}
	if body.OperatorID != "payload-op" {
		t.Errorf("payload operator should win, got %q", body.OperatorID)
	}
}

func TestKnowledgeBaseStatusDerived(t *testing.T) {
	tests := []struct {
		st           KnowledgeBaseStatus
		allCompleted bool
		hasPending   bool
	}{
		{KnowledgeBaseStatus{Total: 3, Embedded: 3}, true, false},
		{KnowledgeBaseStatus{Total: 0, Embedded: 0}, false, false},
		{KnowledgeBaseStatus{Total: 3, Embedded: 1, Pending: 2}, false, true},
		{KnowledgeBaseStatus{Total: 3, Embedded: 2, Failed: 1}, false, false},
	}
	for _, tt := range tests {
		if got := tt.st.AllCompleted(); got != tt.allCompleted {
			t.Errorf("%+v AllCompleted = %v", tt.st, got)
		}
		if got := tt.st.HasPending(); got != tt.hasPending {
			t.Errorf("%+v HasPending = %v", tt.st, got)
		}
	}
}

// =============================================================================
// ERROR MAPPING TESTS
// =============================================================================

func TestErrorMappingClassifies(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		sentinel error
		class    retry.Class
	}{
		{http.StatusBadRequest, `{"error":"url is malformed"}`, ErrInvalidRequest, retry.Terminal},
		{http.StatusUnauthorized, ``, ErrUnauthorized, retry.Terminal},
		{http.StatusForbidden, `{"detail":"operator lacks access"}`, ErrPermissionDenied, retry.Terminal},
		{http.StatusNotFound, `{"message":"no such document"}`, ErrNotFound, retry.Terminal},
		{http.StatusTooManyRequests, ``, ErrRateLimited, retry.Retryable},
		{http.StatusBadGateway, `upstream down`, nil, retry.Retryable},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))

		_, err := newTestClient(server).DocumentStatus(context.Background(), "d", "")
		server.Close()

		if err == nil {
			t.Errorf("HTTP %d: expected error", tt.status)
			continue
		}
		if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
			t.Errorf("HTTP %d: expected %v, got %v", tt.status, tt.sentinel, err)
		}
		if tt.sentinel == nil {
			var se *ServerError
			if !errors.As(err, &se) || se.Status != tt.status {
				t.Errorf("HTTP %d: expected ServerError, got %v", tt.status, err)
			}
		}
		if got := retry.Classify(err.Error()); got != tt.class {
			t.Errorf("HTTP %d: %q classified %s, want %s", tt.status, err, got, tt.class)
		}
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(server)
	server.Close()

	_, err := client.KnowledgeBaseStatus(context.Background(), "kb", "")
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if !strings.Contains(err.Error(), "request failed") {
		t.Errorf("expected transport error, got %v", err)
	}
	if retry.Classify(err.Error()) != retry.Retryable {
		t.Errorf("transport errors should be retryable: %v", err)
	}
}

func TestCanceledContextReturnsContextError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(server).DocumentStatus(ctx, "d", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResponseSizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"` + strings.Repeat("x", MaxResponseSize) + `"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).DocumentStatus(context.Background(), "d", "")
	if err == nil || !strings.Contains(err.Error(), "maximum size") {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

// =============================================================================
// CRAWLER TESTS
// =============================================================================

func TestCrawlLifecycle(t *testing.T) {
	var submitted CrawlRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/crawl/async", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&submitted)
		w.Write([]byte(`{"job_id":"job-1","status":"pending","message":"queued"}`))
	})
	mux.HandleFunc("/crawl/job/job-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"job_id":"job-1","status":"running","progress":40,"pages_crawled":4,"total_pages":10}`))
	})
	mux.HandleFunc("/crawl/job/job-1/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"job_id":"job-1","status":"cancelled"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(server).WithOperatorID("op")
	ctx := context.Background()

	accepted, err := client.SubmitCrawl(ctx, CrawlRequest{URL: "https://example.com", Mode: "single_url", KnowledgeBaseID: "kb", MaxDepth: 3, MaxPages: 100})
	if err != nil {
		t.Fatalf("SubmitCrawl failed: %v", err)
	}
	if accepted.JobID != "job-1" {
		t.Errorf("expected job-1, got %q", accepted.JobID)
	}
	if submitted.UserID != "op" || submitted.KnowledgeBaseID != "kb" {
		t.Errorf("unexpected submitted request: %+v", submitted)
	}

	job, err := client.CrawlStatus(ctx, "job-1")
	if err != nil {
		t.Fatalf("CrawlStatus failed: %v", err)
	}
	if job.Status != CrawlRunning || job.PagesCrawled != 4 || job.TotalPages == nil || *job.TotalPages != 10 {
		t.Errorf("unexpected job: %+v", job)
	}

	resp, err := client.CancelCrawl(ctx, "job-1")
	if err != nil {
		t.Fatalf("CancelCrawl failed: %v", err)
	}
	if resp.Status != CrawlCancelled {
		t.Errorf("expected cancelled, got %s", resp.Status)
	}
}

func TestCrawlControlRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"job_id":"j","status":"completed","error":"job already finished"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).PauseCrawl(context.Background(), "j")
	if err == nil || !strings.Contains(err.Error(), "already finished") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestSubmitCrawlWithoutJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"pending"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).SubmitCrawl(context.Background(), CrawlRequest{URL: "https://example.com"})
	if err == nil {
		t.Fatal("expected error for missing job id")
	}
}
