// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/kbtasks/internal/adapters"
	"github.com/jeranaias/kbtasks/internal/backoff"
	"github.com/jeranaias/kbtasks/internal/config"
	"github.com/jeranaias/kbtasks/internal/events"
	"github.com/jeranaias/kbtasks/internal/retry"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// =============================================================================
// FAKES
// =============================================================================

type step func(ctx context.Context, t tasks.Task, r adapters.Reporter) (tasks.Outcome, error)

func succeed(ctx context.Context, t tasks.Task, r adapters.Reporter) (tasks.Outcome, error) {
	return tasks.Succeeded(), nil
}

func fail(msg string) step {
	return func(ctx context.Context, t tasks.Task, r adapters.Reporter) (tasks.Outcome, error) {
		return tasks.Failed(msg), nil
	}
}

// block signals started and waits for cancellation.
func block(started chan<- string) step {
	return func(ctx context.Context, t tasks.Task, r adapters.Reporter) (tasks.Outcome, error) {
		started <- t.ID
		<-ctx.Done()
		return tasks.Outcome{}, tasks.ErrCanceled
	}
}

// fakeAdapter runs scripted steps; the last step repeats.
type fakeAdapter struct {
	typ   tasks.Type
	steps []step

	mu        sync.Mutex
	calls     []tasks.Task
	active    int
	maxActive int

	snapshots map[string]adapters.Snapshot
	checkErr  error
}

func (f *fakeAdapter) Type() tasks.Type { return f.typ }

func (f *fakeAdapter) Execute(ctx context.Context, t tasks.Task, r adapters.Reporter) (tasks.Outcome, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, t)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	var st step = succeed
	if len(f.steps) > 0 {
		st = f.steps[min(n, len(f.steps)-1)]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	return st(ctx, t, r)
}

func (f *fakeAdapter) Check(ctx context.Context, t tasks.Task) (adapters.Snapshot, error) {
	if f.checkErr != nil {
		return adapters.Snapshot{}, f.checkErr
	}
	return f.snapshots[t.ID], nil
}

func (f *fakeAdapter) callIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.calls))
	for i, c := range f.calls {
		ids[i] = c.ID
	}
	return ids
}

// fakeController is a fakeAdapter whose remote jobs can be steered.
type fakeController struct {
	fakeAdapter

	cmu       sync.Mutex
	cancelled []string
	paused    []string
	cancelErr error
}

func (f *fakeController) CancelRemote(ctx context.Context, t tasks.Task) error {
	f.cmu.Lock()
	defer f.cmu.Unlock()
	f.cancelled = append(f.cancelled, t.ID)
	return f.cancelErr
}

func (f *fakeController) PauseRemote(ctx context.Context, t tasks.Task) error {
	f.cmu.Lock()
	defer f.cmu.Unlock()
	f.paused = append(f.paused, t.ID)
	return nil
}

func (f *fakeController) ResumeRemote(ctx context.Context, t tasks.Task) error {
	return nil
}

func (f *fakeController) cancelledIDs() []string {
	f.cmu.Lock()
	defer f.cmu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	store  *tasks.Store
	sched  *Scheduler
	rec    *events.Recorder
	cancel context.CancelFunc

	mu     sync.Mutex
	sleeps []time.Duration
}

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newHarness(t *testing.T, store *tasks.Store, list ...adapters.Adapter) *harness {
	t.Helper()
	if store == nil {
		store = tasks.NewStore(nil, 0).WithLogger(quiet())
	}
	h := &harness{store: store, rec: &events.Recorder{}}

	policy := retry.Policy{
		MaxRetries: 3,
		Backoff:    backoff.Retry{Base: time.Second, Factor: 2},
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
			return ctx.Err()
		},
	}
	h.sched = New(store, adapters.NewRegistry(list...), policy).
		WithLogger(quiet()).
		WithPublisher(h.rec)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	require.NoError(t, h.sched.Start(ctx))
	t.Cleanup(func() {
		cancel()
		h.sched.Wait()
	})
}

func (h *harness) recordedSleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func (h *harness) addDoc(t *testing.T, docID string) tasks.Task {
	t.Helper()
	task, err := h.sched.AddTask(tasks.TypeEmbedDocument, "", tasks.EmbedDocumentData{DocumentID: docID})
	require.NoError(t, err)
	return task
}

func (h *harness) addCrawl(t *testing.T) tasks.Task {
	t.Helper()
	task, err := h.sched.AddTask(tasks.TypeCrawlWebpage, "", tasks.CrawlWebpageData{URL: "https://example.com", KnowledgeBaseID: "kb"})
	require.NoError(t, err)
	return task
}

func waitStatus(t *testing.T, store *tasks.Store, id string, want tasks.Status) tasks.Task {
	t.Helper()
	var got tasks.Task
	require.Eventually(t, func() bool {
		var ok bool
		got, ok = store.Get(id)
		return ok && got.Status == want
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return got
}

func docAdapter(steps ...step) *fakeAdapter {
	return &fakeAdapter{typ: tasks.TypeEmbedDocument, steps: steps}
}

func crawlAdapter(steps ...step) *fakeController {
	return &fakeController{fakeAdapter: fakeAdapter{typ: tasks.TypeCrawlWebpage, steps: steps}}
}

// =============================================================================
// EXECUTION
// =============================================================================

func TestHappyPath(t *testing.T) {
	docs := docAdapter(func(ctx context.Context, t tasks.Task, r adapters.Reporter) (tasks.Outcome, error) {
		r.Progress(3, 12)
		return tasks.Succeeded(), nil
	})
	h := newHarness(t, nil, docs)
	task := h.addDoc(t, "doc-1")
	require.Equal(t, "Embed document doc-1", task.Title)
	h.start(t)

	got := waitStatus(t, h.store, task.ID, tasks.StatusCompleted)
	require.Equal(t, 100, got.Progress)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	require.Empty(t, got.Error)
	require.Equal(t, 3, got.ProgressData.Current)
	require.Equal(t, 12, got.ProgressData.Total)

	require.Eventually(t, func() bool {
		kinds := h.rec.Kinds(task.ID)
		return len(kinds) == 3 &&
			kinds[0] == events.KindAdded && kinds[1] == events.KindStarted && kinds[2] == events.KindCompleted
	}, 5*time.Second, 5*time.Millisecond)
}

func TestTransientFailureIsRetried(t *testing.T) {
	docs := docAdapter(fail("server error (HTTP 503): upstream unavailable"), succeed)
	h := newHarness(t, nil, docs)
	task := h.addDoc(t, "doc-1")
	h.start(t)

	got := waitStatus(t, h.store, task.ID, tasks.StatusCompleted)
	require.Len(t, docs.callIDs(), 2)
	require.Equal(t, []time.Duration{time.Second}, h.recordedSleeps())
	require.Equal(t, 1, got.ProgressData.RetryCount)
	require.Empty(t, got.Error)

	require.Eventually(t, func() bool {
		for _, k := range h.rec.Kinds(task.ID) {
			if k == events.KindRetrying {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
}

func TestTerminalErrorIsNotRetried(t *testing.T) {
	docs := docAdapter(fail("permission denied"))
	h := newHarness(t, nil, docs)
	task := h.addDoc(t, "doc-1")
	h.start(t)

	got := waitStatus(t, h.store, task.ID, tasks.StatusFailed)
	require.Equal(t, "permission denied", got.Error)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, docs.callIDs(), 1)
	require.Empty(t, h.recordedSleeps())
}

func TestRetriesExhausted(t *testing.T) {
	docs := docAdapter(fail("timeout 1"), fail("timeout 2"), fail("timeout 3"), fail("timeout 4"))
	h := newHarness(t, nil, docs)
	task := h.addDoc(t, "doc-1")
	h.start(t)

	got := waitStatus(t, h.store, task.ID, tasks.StatusFailed)
	require.Equal(t, "timeout 4", got.Error)
	require.Len(t, docs.callIDs(), 4)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.recordedSleeps())
}

func TestTasksRunSeriallyInOrder(t *testing.T) {
	docs := docAdapter(func(ctx context.Context, t tasks.Task, r adapters.Reporter) (tasks.Outcome, error) {
		time.Sleep(5 * time.Millisecond)
		return tasks.Succeeded(), nil
	})
	h := newHarness(t, nil, docs)

	var want []string
	for _, id := range []string{"a", "b", "c", "d"} {
		want = append(want, h.addDoc(t, id).ID)
	}
	h.start(t)

	// Added while the queue is draining
	late := h.addDoc(t, "e")
	want = append(want, late.ID)

	for _, id := range want {
		waitStatus(t, h.store, id, tasks.StatusCompleted)
	}
	require.Equal(t, want, docs.callIDs())

	docs.mu.Lock()
	defer docs.mu.Unlock()
	require.Equal(t, 1, docs.maxActive)
}

func TestProgressAndJobAreRecorded(t *testing.T) {
	release := make(chan struct{})
	crawls := crawlAdapter(func(ctx context.Context, t tasks.Task, r adapters.Reporter) (tasks.Outcome, error) {
		r.AttachJob("job-42")
		r.Progress(5, 10)
		<-release
		return tasks.Succeeded(), nil
	})
	h := newHarness(t, nil, crawls)
	task := h.addCrawl(t)
	h.start(t)

	require.Eventually(t, func() bool {
		got, _ := h.store.Get(task.ID)
		return got.Progress == 50 && got.JobID == "job-42"
	}, 5*time.Second, 5*time.Millisecond)

	close(release)
	got := waitStatus(t, h.store, task.ID, tasks.StatusCompleted)
	require.Equal(t, "job-42", got.JobID)
}

func TestReporterDropsUpdatesForStoppedTask(t *testing.T) {
	h := newHarness(t, nil, docAdapter())
	task := h.addDoc(t, "doc-1")

	var buf bytes.Buffer
	h.sched.WithLogger(log.New(&buf, "", 0))
	rep := &reporter{s: h.sched, id: task.ID, maxRetries: 3}

	rep.Progress(5, 10)
	rep.AttachJob("job-1")
	rep.setRetryCount(task, 2)

	got, _ := h.store.Get(task.ID)
	require.Equal(t, tasks.StatusPending, got.Status)
	require.Zero(t, got.Progress)
	require.Empty(t, got.JobID)

	require.True(t, h.store.Remove(task.ID))
	rep.Progress(10, 10)
	rep.AttachJob("job-2")

	require.Empty(t, buf.String(), "stale reporter updates are not errors")
}

func TestMissingAdapterFailsTask(t *testing.T) {
	h := newHarness(t, nil, docAdapter())
	kb, err := h.sched.AddTask(tasks.TypeEmbedKnowledgeBase, "", tasks.EmbedKnowledgeBaseData{KnowledgeBaseID: "kb"})
	require.NoError(t, err)
	doc := h.addDoc(t, "doc-1")
	h.start(t)

	got := waitStatus(t, h.store, kb.ID, tasks.StatusFailed)
	require.Contains(t, got.Error, "no adapter registered")
	waitStatus(t, h.store, doc.ID, tasks.StatusCompleted)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancelRunningTask(t *testing.T) {
	started := make(chan string, 1)
	crawls := crawlAdapter(block(started))
	docs := docAdapter()
	h := newHarness(t, nil, crawls, docs)

	crawl := h.addCrawl(t)
	next := h.addDoc(t, "doc-1")
	h.start(t)

	require.Equal(t, crawl.ID, <-started)

	got, err := h.sched.CancelTask(context.Background(), crawl.ID)
	require.NoError(t, err)
	require.Equal(t, tasks.StatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, []string{crawl.ID}, crawls.cancelledIDs())

	// The queue moves on and the cancelled task is not overwritten
	waitStatus(t, h.store, next.ID, tasks.StatusCompleted)
	final, _ := h.store.Get(crawl.ID)
	require.Equal(t, tasks.StatusCancelled, final.Status)
	require.Equal(t, *got.CompletedAt, *final.CompletedAt)
}

func TestCancelRunningTaskRemoteFailureIsTolerated(t *testing.T) {
	started := make(chan string, 1)
	crawls := crawlAdapter(block(started))
	crawls.cancelErr = errors.New("request failed: connection refused")
	h := newHarness(t, nil, crawls)

	crawl := h.addCrawl(t)
	h.start(t)
	<-started

	got, err := h.sched.CancelTask(context.Background(), crawl.ID)
	require.NoError(t, err)
	require.Equal(t, tasks.StatusCancelled, got.Status)
}

func TestCancelPendingTask(t *testing.T) {
	docs := docAdapter()
	h := newHarness(t, nil, docs)
	task := h.addDoc(t, "doc-1")

	got, err := h.sched.CancelTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, tasks.StatusCancelled, got.Status)

	other := h.addDoc(t, "doc-2")
	h.start(t)
	waitStatus(t, h.store, other.ID, tasks.StatusCompleted)
	require.Equal(t, []string{other.ID}, docs.callIDs())
}

func TestCancelFinishedTaskIsNoop(t *testing.T) {
	h := newHarness(t, nil, docAdapter())
	task := h.addDoc(t, "doc-1")
	h.start(t)
	done := waitStatus(t, h.store, task.ID, tasks.StatusCompleted)

	got, err := h.sched.CancelTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, tasks.StatusCompleted, got.Status)
	require.Equal(t, *done.CompletedAt, *got.CompletedAt)

	_, err = h.sched.CancelTask(context.Background(), "missing")
	require.ErrorIs(t, err, tasks.ErrNotFound)
}

func TestShutdownLeavesTaskRunning(t *testing.T) {
	started := make(chan string, 1)
	crawls := crawlAdapter(block(started))
	store := tasks.NewStore(nil, 0).WithLogger(quiet())
	h := newHarness(t, store, crawls)
	task := h.addCrawl(t)
	h.start(t)
	<-started

	h.cancel()
	h.sched.Wait()

	got, _ := store.Get(task.ID)
	require.Equal(t, tasks.StatusRunning, got.Status)
	require.Empty(t, crawls.cancelledIDs())

	// A new engine over the same store picks it up again
	again := crawlAdapter(succeed)
	h2 := newHarness(t, store, again)
	h2.start(t)
	waitStatus(t, store, task.ID, tasks.StatusCompleted)
}

// =============================================================================
// USER ACTIONS
// =============================================================================

func TestRetryFailedTask(t *testing.T) {
	docs := docAdapter(fail("document not found"), succeed)
	h := newHarness(t, nil, docs)
	task := h.addDoc(t, "doc-1")
	h.start(t)
	waitStatus(t, h.store, task.ID, tasks.StatusFailed)

	_, err := h.sched.RetryTask(task.ID)
	require.NoError(t, err)

	got := waitStatus(t, h.store, task.ID, tasks.StatusCompleted)
	require.Empty(t, got.Error)
	require.Len(t, docs.callIDs(), 2)

	_, err = h.sched.RetryTask(task.ID)
	require.ErrorIs(t, err, ErrNotRetryable)
}

func TestRetryKeepsPosition(t *testing.T) {
	h := newHarness(t, nil, docAdapter())
	a := h.addDoc(t, "a")
	b := h.addDoc(t, "b")

	msg := "boom"
	now := time.Now()
	_, err := h.store.Update(a.ID, tasks.Patch{Status: tasks.Ptr(tasks.StatusFailed), Error: &msg, CompletedAt: &now})
	require.NoError(t, err)

	got, err := h.sched.RetryTask(a.ID)
	require.NoError(t, err)
	require.Equal(t, tasks.StatusPending, got.Status)
	require.Nil(t, got.CompletedAt)
	require.Nil(t, got.StartedAt)
	require.Empty(t, got.Error)

	list := h.sched.Tasks()
	require.Equal(t, a.ID, list[0].ID)
	require.Equal(t, b.ID, list[1].ID)
}

func TestRemoveRunningTask(t *testing.T) {
	started := make(chan string, 1)
	crawls := crawlAdapter(block(started))
	h := newHarness(t, nil, crawls, docAdapter())
	crawl := h.addCrawl(t)
	next := h.addDoc(t, "doc-1")
	h.start(t)
	<-started

	require.NoError(t, h.sched.RemoveTask(context.Background(), crawl.ID))
	_, ok := h.store.Get(crawl.ID)
	require.False(t, ok)
	require.Equal(t, []string{crawl.ID}, crawls.cancelledIDs())

	waitStatus(t, h.store, next.ID, tasks.StatusCompleted)
	require.ErrorIs(t, h.sched.RemoveTask(context.Background(), crawl.ID), tasks.ErrNotFound)
}

func TestClearTasks(t *testing.T) {
	docs := docAdapter(succeed, fail("invalid document"), succeed)
	h := newHarness(t, nil, docs)
	a := h.addDoc(t, "a")
	b := h.addDoc(t, "b")
	h.start(t)
	waitStatus(t, h.store, a.ID, tasks.StatusCompleted)
	waitStatus(t, h.store, b.ID, tasks.StatusFailed)

	require.Equal(t, 1, h.sched.ClearCompletedTasks())
	list := h.sched.Tasks()
	require.Len(t, list, 1)
	require.Equal(t, b.ID, list[0].ID)

	require.Equal(t, 1, h.sched.ClearAllTasks(context.Background()))
	require.Empty(t, h.sched.Tasks())
}

func TestPauseResume(t *testing.T) {
	started := make(chan string, 1)
	crawls := crawlAdapter(block(started))
	h := newHarness(t, nil, crawls, docAdapter())
	doc := h.addDoc(t, "doc-1")
	_, err := h.sched.CancelTask(context.Background(), doc.ID)
	require.NoError(t, err)
	crawl := h.addCrawl(t)

	require.ErrorIs(t, h.sched.PauseTask(context.Background(), crawl.ID), ErrNotRunning)

	h.start(t)
	<-started
	require.NoError(t, h.sched.PauseTask(context.Background(), crawl.ID))
	require.NoError(t, h.sched.ResumeTask(context.Background(), crawl.ID))

	crawls.cmu.Lock()
	require.Equal(t, []string{crawl.ID}, crawls.paused)
	crawls.cmu.Unlock()

	running := h.addDoc(t, "doc-2")
	_, err = h.store.Update(running.ID, tasks.Patch{Status: tasks.Ptr(tasks.StatusRunning)})
	require.NoError(t, err)
	require.ErrorIs(t, h.sched.PauseTask(context.Background(), running.ID), ErrNotSupported)
}

func TestAddTask(t *testing.T) {
	h := newHarness(t, nil, docAdapter())
	h.sched.WithOperatorID("ops")

	task, err := h.sched.AddTask(tasks.TypeEmbedDocument, "", tasks.EmbedDocumentData{DocumentID: "d1"})
	require.NoError(t, err)
	require.Equal(t, "Embed document d1", task.Title)
	require.Equal(t, "ops", task.Data.(tasks.EmbedDocumentData).OperatorID)
	require.Equal(t, tasks.StatusPending, task.Status)

	_, err = h.sched.AddTask(tasks.TypeCrawlWebpage, "x", tasks.EmbedDocumentData{DocumentID: "d1"})
	require.Error(t, err)

	_, err = h.sched.AddTask(tasks.TypeEmbedDocument, "x", tasks.EmbedDocumentData{})
	require.Error(t, err)
}

// =============================================================================
// RETENTION AND TUNABLES
// =============================================================================

func TestRetentionKeepsMostRecent(t *testing.T) {
	store := tasks.NewStore(nil, 2).WithLogger(quiet())
	h := newHarness(t, store, docAdapter())
	a := h.addDoc(t, "a")
	b := h.addDoc(t, "b")
	c := h.addDoc(t, "c")
	h.start(t)

	require.Eventually(t, func() bool {
		list := store.List()
		return len(list) == 2 && list[0].ID == b.ID && list[1].ID == c.ID &&
			list[0].Status == tasks.StatusCompleted && list[1].Status == tasks.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		kinds := h.rec.Kinds(a.ID)
		return len(kinds) > 0 && kinds[len(kinds)-1] == events.KindRemoved
	}, 5*time.Second, 5*time.Millisecond)
}

func TestApplyTunables(t *testing.T) {
	docs := docAdapter(fail("timeout"))
	h := newHarness(t, nil, docs)

	cfg := config.Default().Engine
	cfg.MaxRetries = 0
	cfg.RetentionCap = 7
	h.sched.ApplyTunables(cfg)
	require.Equal(t, 7, h.store.RetentionCap())

	task := h.addDoc(t, "doc-1")
	h.start(t)
	got := waitStatus(t, h.store, task.ID, tasks.StatusFailed)
	require.Equal(t, "timeout", got.Error)
	require.Len(t, docs.callIDs(), 1)
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, nil, docAdapter())
	h.start(t)
	require.ErrorIs(t, h.sched.Start(context.Background()), ErrAlreadyStarted)
}

func TestStartLogsStoreSummary(t *testing.T) {
	store := tasks.NewStore(nil, 0).WithLogger(quiet())
	task := addRunning(t, store, "job-done")
	crawls := crawlAdapter()
	crawls.snapshots = map[string]adapters.Snapshot{task.ID: {State: adapters.StateCompleted}}

	var buf bytes.Buffer
	h := newHarness(t, store, crawls)
	h.sched.WithLogger(log.New(&buf, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.sched.Start(ctx))
	cancel()
	h.sched.Wait()

	require.Contains(t, buf.String(), "Scheduler started: Running: 0 | Pending: 0 | Completed: 1")
}
