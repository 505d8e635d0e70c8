// Package sessions tracks live connections, their authenticated
// identity, and their topic subscriptions. The Registry is the single
// source of truth for who is connected and who is subscribed to what;
// the broker derives subscriber sets from it at publish time.
package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskboard/taskboard-go/auth"
)

var (
	// ErrSessionClosed indicates the session was removed and its
	// outbound channel closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrBufferFull indicates the session's outbound buffer was full and
	// the delivery was dropped.
	ErrBufferFull = errors.New("session buffer full")

	// ErrNotFound indicates the session id is not registered.
	ErrNotFound = errors.New("session not found")
)

// DefaultBufferSize bounds each session's outbound event buffer. A
// subscriber that falls further behind than this has deliveries
// dropped rather than stalling publishers.
const DefaultBufferSize = 64

// Envelope is one outbound event queued for a session. Data is the
// already-serialized event payload; transports frame it per protocol.
type Envelope struct {
	Topic string
	Data  []byte
}

// Session is the server-side state bound to one live connection. It is
// owned by the Registry; transports hold a reference for its lifetime.
type Session struct {
	id string

	mu        sync.Mutex
	identity  *auth.Identity
	expiresAt time.Time
	topics    map[string]struct{}
	closed    bool

	out chan Envelope
}

// ID returns the registry-assigned session id.
func (s *Session) ID() string { return s.id }

// Identity returns the attached identity, or nil if the session is
// anonymous or its identity has expired.
func (s *Session) Identity() *auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	if !s.expiresAt.IsZero() && time.Now().After(s.expiresAt) {
		return nil
	}
	id := *s.identity
	return &id
}

// Events is the session's outbound channel. It is closed when the
// session is removed from the registry.
func (s *Session) Events() <-chan Envelope { return s.out }

// TrySend enqueues an envelope without blocking. It returns
// ErrSessionClosed after removal and ErrBufferFull when the bounded
// buffer is exhausted; in both cases the envelope is dropped.
func (s *Session) TrySend(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.out <- env:
		return nil
	default:
		return ErrBufferFull
	}
}

// subscribedTo reports whether the session is subscribed to topic.
func (s *Session) subscribedTo(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	return ok
}

// Registry tracks all live sessions. All methods are safe for
// concurrent use from multiple connection handlers and none block.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	bufSize int

	// onCount, if set, observes the live session count after every
	// register/remove. Used to feed a metrics gauge.
	onCount func(n int)
}

// Option configures a Registry.
type Option func(*Registry)

// WithBufferSize overrides the per-session outbound buffer bound.
func WithBufferSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// WithSessionCountFunc registers an observer for the live session
// count.
func WithSessionCountFunc(fn func(n int)) Option {
	return func(r *Registry) { r.onCount = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		bufSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a session for a new connection and returns it. The
// session starts anonymous with no subscriptions.
func (r *Registry) Register() *Session {
	s := &Session{
		id:     uuid.NewString(),
		topics: make(map[string]struct{}),
		out:    make(chan Envelope, r.bufSize),
	}

	r.mu.Lock()
	r.sessions[s.id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	if r.onCount != nil {
		r.onCount(n)
	}
	return s
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	return s, ok
}

// AttachIdentity binds an identity to the session until expiresAt. A
// zero expiresAt means the identity does not expire with the token
// (the session teardown still revokes it).
func (r *Registry) AttachIdentity(id string, ident auth.Identity, expiresAt time.Time) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	s.identity = &ident
	s.expiresAt = expiresAt
	s.mu.Unlock()
	return nil
}

// ClearIdentity detaches the session's identity, returning it to the
// anonymous state. Subscriptions are unaffected.
func (r *Registry) ClearIdentity(id string) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	s.identity = nil
	s.expiresAt = time.Time{}
	s.mu.Unlock()
	return nil
}

// Subscribe adds the session to a topic's subscriber set.
func (r *Registry) Subscribe(id, topic string) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Unsubscribe removes the session from a topic's subscriber set. It is
// a no-op for unknown sessions or topics.
func (r *Registry) Unsubscribe(id, topic string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// SubscribersOf returns a snapshot of the sessions currently
// subscribed to topic. The subscriber set is derived from session
// state, not stored per topic, so there is no second source to drift.
func (r *Registry) SubscribersOf(topic string) []*Session {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	subs := all[:0]
	for _, s := range all {
		if s.subscribedTo(topic) {
			subs = append(subs, s)
		}
	}
	return subs
}

// Remove tears down the session: it is dropped from the registry, its
// subscriptions with it, and its outbound channel is closed. Remove is
// idempotent because disconnect can race with in-flight operation
// handling.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.mu.Unlock()

	if r.onCount != nil {
		r.onCount(n)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
