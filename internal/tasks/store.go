// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when no task has the requested ID.
	ErrNotFound = errors.New("task not found")

	// ErrDuplicateID is returned when adding a task whose ID is already stored.
	ErrDuplicateID = errors.New("task id already exists")

	// ErrStatusConflict is returned when a patch precondition does not hold.
	ErrStatusConflict = errors.New("task status conflict")
)

// =============================================================================
// PERSISTENCE
// =============================================================================

// Persister reads and writes the serialized task list under a single key.
// Load returns nil data when nothing has been stored yet.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// DefaultSaveTimeout bounds a single persistence write.
const DefaultSaveTimeout = 5 * time.Second

// =============================================================================
// PATCH
// =============================================================================

// Patch is a partial update applied by Store.Update.
// Nil pointer fields are left unchanged; Clear flags reset optional fields.
type Patch struct {
	// Expect, when non-empty, requires the current status to be one of these.
	Expect []Status

	Status       *Status
	Title        *string
	Progress     *int
	ProgressData *ProgressData
	Error        *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	JobID        *string

	ClearError        bool
	ClearStartedAt    bool
	ClearCompletedAt  bool
	ClearProgressData bool
	ClearJobID        bool
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}

func (p Patch) allows(s Status) bool {
	if len(p.Expect) == 0 {
		return true
	}
	for _, e := range p.Expect {
		if e == s {
			return true
		}
	}
	return false
}

func (p Patch) apply(t *Task) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Progress != nil {
		t.Progress = clampPercent(*p.Progress)
	}
	if p.ClearProgressData {
		t.ProgressData = nil
	}
	if p.ProgressData != nil {
		pd := *p.ProgressData
		t.ProgressData = &pd
	}
	if p.ClearError {
		t.Error = ""
	}
	if p.Error != nil {
		t.Error = *p.Error
	}
	if p.ClearStartedAt {
		t.StartedAt = nil
	}
	if p.StartedAt != nil {
		ts := *p.StartedAt
		t.StartedAt = &ts
	}
	if p.ClearCompletedAt {
		t.CompletedAt = nil
	}
	if p.CompletedAt != nil {
		ts := *p.CompletedAt
		t.CompletedAt = &ts
	}
	if p.ClearJobID {
		t.JobID = ""
	}
	if p.JobID != nil {
		t.JobID = *p.JobID
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// =============================================================================
// TASK STORE
// =============================================================================

// Store is the single owner of the ordered task list.
// Every mutation rewrites the persisted list once and notifies subscribers.
type Store struct {
	// tasks is the ordered list; position is dispatch order
	tasks []Task

	persister   Persister
	saveTimeout time.Duration
	retention   Retention

	// subs receive a coalesced signal after each mutation
	subs    map[int]chan struct{}
	nextSub int

	now     func() time.Time
	logger  *log.Logger
	onEvict func([]Task)

	// evicting is set while a deferred retention pass is scheduled
	evicting atomic.Bool

	// mu protects tasks, subs and settings
	mu sync.RWMutex
}

// NewStore creates an empty store backed by p (which may be nil).
// retentionCap bounds the number of terminal tasks kept (0 = unlimited).
func NewStore(p Persister, retentionCap int) *Store {
	return &Store{
		tasks:       make([]Task, 0),
		persister:   p,
		saveTimeout: DefaultSaveTimeout,
		retention:   Retention{Cap: retentionCap},
		subs:        make(map[int]chan struct{}),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.New(os.Stderr, "[tasks] ", log.LstdFlags),
	}
}

// WithClock sets the clock used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithLogger sets the logger.
func (s *Store) WithLogger(l *log.Logger) *Store {
	s.logger = l
	return s
}

// WithEvictionHandler registers a callback invoked with tasks removed by retention.
func (s *Store) WithEvictionHandler(fn func([]Task)) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// SetRetentionCap changes the retention cap and re-applies it.
func (s *Store) SetRetentionCap(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retention.Cap = n
	s.scheduleEvictionLocked()
}

// RetentionCap returns the current retention cap.
func (s *Store) RetentionCap() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retention.Cap
}

// Load replaces the in-memory list with the persisted one.
// Malformed persisted entries are dropped; an unreadable backend leaves the store empty.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	data, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(data) == 0 {
		s.tasks = make([]Task, 0)
	} else {
		s.tasks = Deserialize(data)
	}
	s.notifyLocked()
	s.scheduleEvictionLocked()
	return nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Add appends a task and returns its ID. Missing ID, status and creation
// time are filled in.
func (s *Store) Add(t Task) (string, error) {
	if err := validateForAdd(t); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if s.indexLocked(t.ID) >= 0 {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
	}

	s.tasks = append(s.tasks, t.Clone())
	s.commitLocked()
	return t.ID, nil
}

func validateForAdd(t Task) error {
	if !t.Type.Valid() {
		return fmt.Errorf("invalid task type %q", t.Type)
	}
	if t.Data == nil {
		return errors.New("invalid task: missing data")
	}
	if t.Data.Type() != t.Type {
		return fmt.Errorf("invalid task: %s payload for %s task", t.Data.Type(), t.Type)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("invalid task status %q", t.Status)
	}
	return t.Data.Validate()
}

// Update applies p to the task with the given ID and returns the result.
func (s *Store) Update(id string, p Patch) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !p.allows(s.tasks[idx].Status) {
		return s.tasks[idx].Clone(), fmt.Errorf("%w: task %s is %s", ErrStatusConflict, id, s.tasks[idx].Status)
	}

	p.apply(&s.tasks[idx])
	s.commitLocked()
	return s.tasks[idx].Clone(), nil
}

// Remove deletes a task. Returns true if it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return false
	}
	s.tasks = append(s.tasks[:idx], s.tasks[idx+1:]...)
	s.commitLocked()
	return true
}

// RemoveWhere deletes every task matching fn and returns how many were removed.
func (s *Store) RemoveWhere(fn func(Task) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !fn(t.Clone()) {
			kept = append(kept, t)
		}
	}
	removed := len(s.tasks) - len(kept)
	if removed == 0 {
		return 0
	}
	s.tasks = kept
	s.commitLocked()
	return removed
}

// =============================================================================
// QUERIES
// =============================================================================

// Get retrieves a copy of a task by ID.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return Task{}, false
	}
	return s.tasks[idx].Clone(), true
}

// List returns a copy of all tasks in list order.
func (s *Store) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Count returns the total number of tasks.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Counts returns the number of tasks per status.
func (s *Store) Counts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int, 5)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts
}

// Summary returns a formatted summary of the store.
func (s *Store) Summary() string {
	c := s.Counts()
	return fmt.Sprintf("Running: %d | Pending: %d | Completed: %d | Failed: %d | Cancelled: %d",
		c[StatusRunning], c[StatusPending], c[StatusCompleted], c[StatusFailed], c[StatusCancelled])
}

func (s *Store) indexLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Subscribe returns a channel that receives a signal after every change,
// and a function that ends the subscription. Signals are coalesced: a slow
// reader sees one pending signal, then reads the latest state with List.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// notifyLocked signals subscribers (must be called with lock held).
func (s *Store) notifyLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Already signalled
		}
	}
}

// commitLocked persists and notifies after a mutation (must be called with lock held).
func (s *Store) commitLocked() {
	s.persistLocked()
	s.notifyLocked()
	s.scheduleEvictionLocked()
}

// persistLocked writes the whole list. Failures are logged and swallowed so a
// full or unavailable backend never blocks task execution.
func (s *Store) persistLocked() {
	if s.persister == nil {
		return
	}
	data, err := Serialize(s.tasks)
	if err != nil {
		s.logger.Printf("WARNING: failed to encode task list: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()
	if err := s.persister.Save(ctx, data); err != nil {
		s.logger.Printf("WARNING: failed to persist %d tasks: %v", len(s.tasks), err)
	}
}

// =============================================================================
// RETENTION
// =============================================================================

// scheduleEvictionLocked defers a retention pass to its own goroutine so that
// eviction never runs inside the mutation that triggered it.
func (s *Store) scheduleEvictionLocked() {
	if len(s.retention.Excess(s.tasks)) == 0 {
		return
	}
	if !s.evicting.CompareAndSwap(false, true) {
		return
	}
	go s.evict()
}

func (s *Store) evict() {
	s.mu.Lock()

	// Cleared under the lock so any later mutation can schedule another pass.
	s.evicting.Store(false)

	ids := s.retention.Excess(s.tasks)
	if len(ids) == 0 {
		s.mu.Unlock()
		return
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := make([]Task, 0, len(s.tasks)-len(ids))
	evicted := make([]Task, 0, len(ids))
	for _, t := range s.tasks {
		if _, ok := drop[t.ID]; ok {
			evicted = append(evicted, t.Clone())
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
	s.persistLocked()
	s.notifyLocked()
	onEvict := s.onEvict
	s.mu.Unlock()

	if onEvict != nil {
		onEvict(evicted)
	}
}
