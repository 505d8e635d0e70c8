package sessions

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskboard/taskboard-go/auth"
)

func TestRegisterAndIdentity(t *testing.T) {
	r := NewRegistry()
	s := r.Register()

	if s.ID() == "" {
		t.Fatal("empty session id")
	}
	if got := s.Identity(); got != nil {
		t.Errorf("new session identity = %+v, want nil", got)
	}

	ident := auth.Identity{ID: 1, Username: "alice"}
	if err := r.AttachIdentity(s.ID(), ident, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("AttachIdentity: %v", err)
	}
	got := s.Identity()
	if got == nil || *got != ident {
		t.Errorf("identity = %+v, want %+v", got, ident)
	}

	if err := r.ClearIdentity(s.ID()); err != nil {
		t.Fatalf("ClearIdentity: %v", err)
	}
	if got := s.Identity(); got != nil {
		t.Errorf("identity after clear = %+v, want nil", got)
	}
}

func TestIdentityExpires(t *testing.T) {
	r := NewRegistry()
	s := r.Register()

	ident := auth.Identity{ID: 1, Username: "alice"}
	if err := r.AttachIdentity(s.ID(), ident, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("AttachIdentity: %v", err)
	}
	if got := s.Identity(); got != nil {
		t.Errorf("expired identity = %+v, want nil", got)
	}
}

func TestSubscribersOf(t *testing.T) {
	r := NewRegistry()
	a := r.Register()
	b := r.Register()
	c := r.Register()

	if err := r.Subscribe(a.ID(), "task.added"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := r.Subscribe(b.ID(), "task.added"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := r.Subscribe(c.ID(), "task.deleted"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	subs := r.SubscribersOf("task.added")
	if len(subs) != 2 {
		t.Fatalf("SubscribersOf(task.added) = %d sessions, want 2", len(subs))
	}
	for _, s := range subs {
		if s.ID() == c.ID() {
			t.Error("session subscribed to task.deleted returned for task.added")
		}
	}

	r.Unsubscribe(a.ID(), "task.added")
	if subs := r.SubscribersOf("task.added"); len(subs) != 1 || subs[0].ID() != b.ID() {
		t.Errorf("after unsubscribe, subscribers = %d, want only %s", len(subs), b.ID())
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := r.Register()
	if err := r.Subscribe(s.ID(), "task.added"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	r.Remove(s.ID())
	r.Remove(s.ID()) // must not panic or error

	if _, ok := r.Get(s.ID()); ok {
		t.Error("removed session still registered")
	}
	if subs := r.SubscribersOf("task.added"); len(subs) != 0 {
		t.Errorf("removed session still subscribed: %d", len(subs))
	}
	if _, open := <-s.Events(); open {
		t.Error("events channel still open after remove")
	}
}

func TestTrySend(t *testing.T) {
	r := NewRegistry(WithBufferSize(1))
	s := r.Register()

	if err := s.TrySend(Envelope{Topic: "task.added", Data: []byte(`{}`)}); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	if err := s.TrySend(Envelope{Topic: "task.added", Data: []byte(`{}`)}); !errors.Is(err, ErrBufferFull) {
		t.Errorf("TrySend on full buffer: got %v, want ErrBufferFull", err)
	}

	r.Remove(s.ID())
	if err := s.TrySend(Envelope{Topic: "task.added"}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("TrySend after remove: got %v, want ErrSessionClosed", err)
	}
}

func TestConcurrentRegisterRemove(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := r.Register()
			if err := r.Subscribe(s.ID(), "task.added"); err != nil {
				t.Errorf("Subscribe: %v", err)
			}
			r.Remove(s.ID())
			r.Remove(s.ID())
		}()
	}
	wg.Wait()

	if n := r.Len(); n != 0 {
		t.Errorf("registry not empty after teardown: %d", n)
	}
}

func TestSessionCountObserver(t *testing.T) {
	var mu sync.Mutex
	var last int
	r := NewRegistry(WithSessionCountFunc(func(n int) {
		mu.Lock()
		last = n
		mu.Unlock()
	}))

	a := r.Register()
	b := r.Register()
	mu.Lock()
	if last != 2 {
		t.Errorf("observer saw %d sessions, want 2", last)
	}
	mu.Unlock()

	r.Remove(a.ID())
	r.Remove(b.ID())
	mu.Lock()
	if last != 0 {
		t.Errorf("observer saw %d sessions after removals, want 0", last)
	}
	mu.Unlock()
}
