package tasks

import (
	"errors"
	"sync"
	"testing"
)

func TestInsertAssignsUniqueOrderedIDs(t *testing.T) {
	s := NewStore()

	var ids []int64
	for _, title := range []string{"one", "two", "three", "four"} {
		task, err := s.Insert(title, "", "", "alice")
		if err != nil {
			t.Fatalf("Insert(%q): %v", title, err)
		}
		ids = append(ids, task.ID)
	}

	seen := map[int64]bool{}
	for i, id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %d", id)
		}
		seen[id] = true
		if i > 0 && id <= ids[i-1] {
			t.Errorf("ids not strictly increasing: %d after %d", id, ids[i-1])
		}
	}

	listed := s.List("")
	if len(listed) != len(ids) {
		t.Fatalf("List returned %d tasks, want %d", len(listed), len(ids))
	}
	for i, task := range listed {
		if task.ID != ids[i] {
			t.Errorf("List[%d].ID = %d, want %d (insertion order)", i, task.ID, ids[i])
		}
	}
}

func TestInsertRejectsEmptyTitle(t *testing.T) {
	s := NewStore()
	if _, err := s.Insert("", "2024-01-01", "", "alice"); !errors.Is(err, ErrValidation) {
		t.Fatalf("Insert with empty title: got %v, want ErrValidation", err)
	}
	if s.Len() != 0 {
		t.Errorf("store not empty after rejected insert")
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s := NewStore()
	a, _ := s.Insert("a", "", "", "alice")
	b, _ := s.Insert("b", "", "", "alice")
	if _, _, err := s.MarkDone(a.ID); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	pending := s.List(StatusPending)
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Errorf("List(pending) = %+v, want only task %d", pending, b.ID)
	}
	done := s.List(StatusDone)
	if len(done) != 1 || done[0].ID != a.ID {
		t.Errorf("List(done) = %+v, want only task %d", done, a.ID)
	}
	if all := s.List("all"); len(all) != 2 {
		t.Errorf("List(all) returned %d tasks, want 2", len(all))
	}
}

func TestMarkDone(t *testing.T) {
	s := NewStore()
	task, _ := s.Insert("a", "", "", "alice")

	t.Run("missing id", func(t *testing.T) {
		if _, _, err := s.MarkDone(task.ID + 1000); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("pending to done", func(t *testing.T) {
		got, changed, err := s.MarkDone(task.ID)
		if err != nil {
			t.Fatalf("MarkDone: %v", err)
		}
		if !changed {
			t.Error("changed = false, want true")
		}
		if got.Status != StatusDone {
			t.Errorf("status = %q, want done", got.Status)
		}
	})

	t.Run("done to done is a no-op", func(t *testing.T) {
		got, changed, err := s.MarkDone(task.ID)
		if err != nil {
			t.Fatalf("MarkDone twice: %v", err)
		}
		if changed {
			t.Error("changed = true on re-application, want false")
		}
		if got.Status != StatusDone {
			t.Errorf("status = %q, want done", got.Status)
		}
	})
}

func TestRemove(t *testing.T) {
	s := NewStore()
	task, _ := s.Insert("a", "", "", "alice")

	if err := s.Remove(task.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, got := range s.List("") {
		if got.ID == task.ID {
			t.Errorf("removed task %d still listed", task.ID)
		}
	}
	if err := s.Remove(task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove twice: got %v, want ErrNotFound", err)
	}
}

func TestConcurrentInsertsLoseNothing(t *testing.T) {
	s := NewStore()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Insert("concurrent", "", "", "alice"); err != nil {
				t.Errorf("Insert: %v", err)
			}
		}()
	}
	wg.Wait()

	listed := s.List("")
	if len(listed) != n {
		t.Fatalf("got %d tasks, want %d", len(listed), n)
	}
	seen := map[int64]bool{}
	for _, task := range listed {
		if seen[task.ID] {
			t.Errorf("duplicate id %d", task.ID)
		}
		seen[task.ID] = true
	}
}
