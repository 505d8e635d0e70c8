// Package tasks owns the mutable task collection. All mutation flows
// through the Store so concurrent handlers never race on shared state.
package tasks

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound indicates an operation referenced a task id that does
	// not exist (or no longer exists).
	ErrNotFound = errors.New("task not found")

	// ErrValidation indicates the input for a mutation was rejected
	// before any state change was applied.
	ErrValidation = errors.New("invalid task input")
)

// Status is the lifecycle state of a task. Transitions are one-way:
// pending -> done.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// Task is the unit of work tracked by the board. The id is unique and
// immutable after creation; JSON field names match the wire payloads
// consumed by clients.
type Task struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Status    Status `json:"status"`
	Date      string `json:"date,omitempty"`
	FileRef   string `json:"file,omitempty"`
	CreatedBy string `json:"createdBy,omitempty"`
}

// Store is an in-memory, process-wide task collection. Mutations are
// serialized under a single writer lock; reads take a shared lock and
// return copies, so callers never observe a task mid-mutation.
type Store struct {
	mu     sync.RWMutex
	byID   map[int64]*Task
	lastID int64
}

// NewStore creates an empty task store.
func NewStore() *Store {
	return &Store{byID: make(map[int64]*Task)}
}

// nextID returns a strictly increasing id derived from the wall clock
// (millisecond precision). Concurrent inserts within the same
// millisecond are bumped past the previous id so ids never collide.
// Callers must hold s.mu.
func (s *Store) nextID() int64 {
	id := time.Now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// List returns tasks in insertion order. A zero-value filter (or the
// literal "all") returns every task; otherwise only tasks whose status
// matches the filter are included.
func (s *Store) List(filter Status) []Task {
	s.mu.RLock()
	out := make([]Task, 0, len(s.byID))
	for _, t := range s.byID {
		if filter != "" && filter != "all" && t.Status != filter {
			continue
		}
		out = append(out, *t)
	}
	s.mu.RUnlock()

	// Ids are monotonic, so id order is insertion order.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Insert creates a new pending task and returns a copy of it.
func (s *Store) Insert(title, date, fileRef, createdBy string) (Task, error) {
	if title == "" {
		return Task{}, fmt.Errorf("%w: missing title", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Task{
		ID:        s.nextID(),
		Title:     title,
		Status:    StatusPending,
		Date:      date,
		FileRef:   fileRef,
		CreatedBy: createdBy,
	}
	s.byID[t.ID] = t
	return *t, nil
}

// MarkDone transitions a task to done and reports whether the call
// changed anything. Marking an already-done task is a no-op rather
// than an error; callers use the changed flag to decide whether a
// change event is warranted.
func (s *Store) MarkDone(id int64) (task Task, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return Task{}, false, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if t.Status == StatusDone {
		return *t, false, nil
	}
	t.Status = StatusDone
	return *t, true, nil
}

// Remove deletes a task by id.
func (s *Store) Remove(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	delete(s.byID, id)
	return nil
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
