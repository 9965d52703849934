// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

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
)

// memPersister is an in-memory Persister that records every write.
type memPersister struct {
	mu     sync.Mutex
	data   []byte
	saves  int
	failOn error
}

func (m *memPersister) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), nil
}

func (m *memPersister) Save(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failOn != nil {
		return m.failOn
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *memPersister) snapshot() ([]byte, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), m.saves
}

func quietStore(p Persister, retention int) *Store {
	return NewStore(p, retention).WithLogger(log.New(io.Discard, "", 0))
}

func docTask(t *testing.T, title string) Task {
	t.Helper()
	task, err := NewTask(title, EmbedDocumentData{DocumentID: title})
	require.NoError(t, err)
	return task
}

func TestStoreAddPersistsOncePerMutation(t *testing.T) {
	p := &memPersister{}
	s := quietStore(p, 0)

	id, err := s.Add(docTask(t, "a"))
	require.NoError(t, err)
	_, saves := p.snapshot()
	require.Equal(t, 1, saves)

	_, err = s.Update(id, Patch{Title: Ptr("renamed")})
	require.NoError(t, err)
	require.True(t, s.Remove(id))

	data, saves := p.snapshot()
	require.Equal(t, 3, saves)
	require.Empty(t, Deserialize(data))
}

func TestStoreAddRejects(t *testing.T) {
	s := quietStore(nil, 0)

	task := docTask(t, "a")
	_, err := s.Add(task)
	require.NoError(t, err)

	_, err = s.Add(task)
	require.ErrorIs(t, err, ErrDuplicateID)

	_, err = s.Add(Task{Type: "render-video", Data: EmbedDocumentData{DocumentID: "x"}})
	require.Error(t, err)

	_, err = s.Add(Task{Type: TypeCrawlWebpage, Data: EmbedDocumentData{DocumentID: "x"}})
	require.ErrorContains(t, err, "invalid")

	require.Equal(t, 1, s.Count())
}

func TestStoreKeepsInsertionOrder(t *testing.T) {
	s := quietStore(nil, 0)
	for _, title := range []string{"first", "second", "third"} {
		_, err := s.Add(docTask(t, title))
		require.NoError(t, err)
	}

	list := s.List()
	require.Len(t, list, 3)
	require.Equal(t, "first", list[0].Title)
	require.Equal(t, "second", list[1].Title)
	require.Equal(t, "third", list[2].Title)
}

func TestStoreUpdateExpectation(t *testing.T) {
	s := quietStore(nil, 0)
	id, err := s.Add(docTask(t, "a"))
	require.NoError(t, err)

	_, err = s.Update(id, Patch{Expect: []Status{StatusRunning}, Status: Ptr(StatusCompleted)})
	require.ErrorIs(t, err, ErrStatusConflict)

	got, _ := s.Get(id)
	require.Equal(t, StatusPending, got.Status)

	_, err = s.Update("missing", Patch{Status: Ptr(StatusRunning)})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreUpdateClearFlags(t *testing.T) {
	s := quietStore(nil, 0)
	id, err := s.Add(docTask(t, "a"))
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = s.Update(id, Patch{
		Status:      Ptr(StatusFailed),
		Error:       Ptr("boom"),
		StartedAt:   &now,
		CompletedAt: &now,
		Progress:    Ptr(250),
	})
	require.NoError(t, err)

	got, _ := s.Get(id)
	require.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)

	got, err = s.Update(id, Patch{
		Status:           Ptr(StatusPending),
		ClearError:       true,
		ClearStartedAt:   true,
		ClearCompletedAt: true,
	})
	require.NoError(t, err)
	require.Empty(t, got.Error)
	require.Nil(t, got.StartedAt)
	require.Nil(t, got.CompletedAt)
}

func TestStoreSwallowsWriteErrors(t *testing.T) {
	p := &memPersister{failOn: errors.New("quota exceeded")}
	var buf bytes.Buffer
	s := NewStore(p, 0).WithLogger(log.New(&buf, "", 0))

	_, err := s.Add(docTask(t, "a"))
	require.NoError(t, err)
	require.Equal(t, 1, s.Count())
	require.Contains(t, buf.String(), "quota exceeded")
}

func TestStoreLoadDropsMalformedEntries(t *testing.T) {
	p := &memPersister{data: []byte(`[
		{"id":"a","type":"embed-document","status":"pending","title":"ok","data":{"documentId":"d1"},"progress":0,"createdAt":"2025-01-01T00:00:00Z"},
		{"type":"embed-document","status":"pending","data":{"documentId":"d2"}},
		{"id":"c","type":"transcode","status":"pending","data":{}},
		{"id":"d","type":"crawl-webpage","status":"running","data":"not-an-object"},
		{"id":"e","type":"embed-knowledge-base","status":"completed","title":"kb","data":{"knowledgeBaseId":"kb1"},"progress":100,"createdAt":"2025-01-01T00:00:00Z"}
	]`)}
	s := quietStore(p, 0)
	require.NoError(t, s.Load(context.Background()))

	list := s.List()
	require.Len(t, list, 2)
	require.Equal(t, "a", list[0].ID)
	require.Equal(t, "e", list[1].ID)
	require.Equal(t, EmbedKnowledgeBaseData{KnowledgeBaseID: "kb1"}, list[1].Data)
}

func TestDeserializeCorruptInput(t *testing.T) {
	require.Empty(t, Deserialize([]byte("{not json")))
	require.Empty(t, Deserialize([]byte(`{"id":"a"}`)))
	require.Empty(t, Deserialize(nil))
}

func TestSerializeRoundTrip(t *testing.T) {
	started := time.Date(2025, 2, 1, 10, 0, 0, 123000000, time.UTC)
	done := started.Add(90 * time.Second)
	list := []Task{
		{
			ID: "1", Type: TypeEmbedDocument, Status: StatusCompleted, Title: "doc",
			Data: EmbedDocumentData{DocumentID: "d", OperatorID: "op"}, Progress: 100,
			ProgressData: &ProgressData{Current: 4, Total: 4, StartTime: started, LastUpdateTime: done, MaxRetries: 3},
			CreatedAt:    started, StartedAt: &started, CompletedAt: &done,
		},
		{
			ID: "2", Type: TypeCrawlWebpage, Status: StatusRunning, Title: "crawl",
			Data:      CrawlWebpageData{URL: "https://example.com", KnowledgeBaseID: "kb", MaxPages: 20},
			CreatedAt: started, StartedAt: &started, JobID: "job-9",
		},
	}

	b, err := Serialize(list)
	require.NoError(t, err)
	require.Equal(t, list, Deserialize(b))
}

func TestStoreSubscribeCoalesces(t *testing.T) {
	s := quietStore(nil, 0)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		_, err := s.Add(docTask(t, "t"))
		require.NoError(t, err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should be coalesced")
	default:
	}
}

func TestStoreRemoveWhere(t *testing.T) {
	s := quietStore(nil, 0)
	a, _ := s.Add(docTask(t, "a"))
	_, _ = s.Add(docTask(t, "b"))
	_, err := s.Update(a, Patch{Status: Ptr(StatusCompleted)})
	require.NoError(t, err)

	removed := s.RemoveWhere(func(t Task) bool { return t.IsTerminal() })
	require.Equal(t, 1, removed)
	require.Equal(t, 1, s.Count())
	require.Equal(t, 0, s.RemoveWhere(func(Task) bool { return false }))
}

func TestStoreSummary(t *testing.T) {
	s := quietStore(nil, 0)
	a, _ := s.Add(docTask(t, "a"))
	_, _ = s.Add(docTask(t, "b"))
	_, err := s.Update(a, Patch{Status: Ptr(StatusFailed)})
	require.NoError(t, err)

	require.Equal(t, "Running: 0 | Pending: 1 | Completed: 0 | Failed: 1 | Cancelled: 0", s.Summary())
}

func TestRetentionExcessOrdersByCompletion(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(min int) *time.Time {
		ts := base.Add(time.Duration(min) * time.Minute)
		return &ts
	}
	list := []Task{
		{ID: "late", Status: StatusCompleted, CompletedAt: at(30)},
		{ID: "pending", Status: StatusPending},
		{ID: "early", Status: StatusFailed, CompletedAt: at(10)},
		{ID: "mid", Status: StatusCancelled, CompletedAt: at(20)},
		{ID: "running", Status: StatusRunning},
	}

	require.Equal(t, []string{"early"}, Retention{Cap: 2}.Excess(list))
	require.Equal(t, []string{"early", "mid"}, Retention{Cap: 1}.Excess(list))
	require.Nil(t, Retention{Cap: 3}.Excess(list))
	require.Nil(t, Retention{Cap: 0}.Excess(list))
}

func TestStoreRetentionEvictsOldestTerminal(t *testing.T) {
	s := quietStore(&memPersister{}, 2)
	evicted := make(chan []Task, 4)
	s.WithEvictionHandler(func(ts []Task) { evicted <- ts })

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := s.Add(docTask(t, "t"))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i, id := range ids {
		done := base.Add(time.Duration(i) * time.Minute)
		_, err := s.Update(id, Patch{Status: Ptr(StatusCompleted), CompletedAt: &done})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return s.Count() == 2 }, time.Second, 5*time.Millisecond)
	_, ok := s.Get(ids[0])
	require.False(t, ok, "oldest completed task should be evicted")

	got := <-evicted
	require.Len(t, got, 1)
	require.Equal(t, ids[0], got[0].ID)
}
