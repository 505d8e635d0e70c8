package broker

import (
	"encoding/json"
	"testing"

	"github.com/taskboard/taskboard-go/sessions"
)

func TestPublishReachesOnlySubscribers(t *testing.T) {
	reg := sessions.NewRegistry()
	b := New(reg)

	sub := reg.Register()
	other := reg.Register()
	if err := reg.Subscribe(sub.ID(), TopicTaskAdded); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := reg.Subscribe(other.ID(), TopicTaskDeleted); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Publish(TopicTaskAdded, map[string]any{"id": 1, "title": "Buy milk"})

	select {
	case env := <-sub.Events():
		if env.Topic != TopicTaskAdded {
			t.Errorf("envelope topic = %q, want %q", env.Topic, TopicTaskAdded)
		}
		var got map[string]any
		if err := json.Unmarshal(env.Data, &got); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if got["title"] != "Buy milk" {
			t.Errorf("payload title = %v, want Buy milk", got["title"])
		}
	default:
		t.Fatal("subscriber received nothing")
	}

	select {
	case env := <-other.Events():
		t.Fatalf("non-subscriber received %+v", env)
	default:
	}
}

func TestPublishOrderPerTopic(t *testing.T) {
	reg := sessions.NewRegistry()
	b := New(reg)

	sub := reg.Register()
	if err := reg.Subscribe(sub.ID(), TopicTaskUpdated); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 5; i++ {
		b.Publish(TopicTaskUpdated, map[string]int{"seq": i})
	}

	for i := 0; i < 5; i++ {
		env := <-sub.Events()
		var got map[string]int
		if err := json.Unmarshal(env.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["seq"] != i {
			t.Fatalf("delivery %d has seq %d, want %d (publish order)", i, got["seq"], i)
		}
	}
}

func TestPublishToRemovedSessionDoesNotPanic(t *testing.T) {
	reg := sessions.NewRegistry()
	b := New(reg)

	sub := reg.Register()
	if err := reg.Subscribe(sub.ID(), TopicTaskAdded); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	reg.Remove(sub.ID())

	// Removed sessions are no longer resolved as subscribers, so this
	// must be a silent no-op.
	b.Publish(TopicTaskAdded, map[string]any{"id": 1})
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	reg := sessions.NewRegistry(sessions.WithBufferSize(1))
	b := New(reg)

	slow := reg.Register()
	if err := reg.Subscribe(slow.ID(), TopicTaskAdded); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Publish(TopicTaskAdded, map[string]int{"seq": 0})
	b.Publish(TopicTaskAdded, map[string]int{"seq": 1}) // dropped, must not block or error

	env := <-slow.Events()
	var got map[string]int
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["seq"] != 0 {
		t.Errorf("delivered seq = %d, want 0", got["seq"])
	}
	select {
	case env := <-slow.Events():
		t.Fatalf("unexpected second delivery: %+v", env)
	default:
	}
}
