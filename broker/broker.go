// Package broker fans state-change events out to every live session
// subscribed to their topic.
//
// Delivery is best-effort with at-least-once semantics for healthy
// subscribers: a session whose outbound buffer is full or whose
// connection closed has the event dropped (and logged), never retried.
// There is no persistence or replay; a client that reconnects must
// re-fetch full state via listTasks rather than recover missed events.
package broker

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/taskboard/taskboard-go/metrics"
	"github.com/taskboard/taskboard-go/sessions"
)

// Topic names. A topic has no stored state beyond its live subscriber
// set, which the broker derives from the session registry at publish
// time.
const (
	TopicTaskAdded   = "task.added"
	TopicTaskUpdated = "task.updated"
	TopicTaskDeleted = "task.deleted"
)

// Topics lists every topic a client may subscribe to.
var Topics = []string{TopicTaskAdded, TopicTaskUpdated, TopicTaskDeleted}

// Broker delivers published events to subscribed sessions. Publish
// resolves the subscriber set at publish time, so sessions registered
// after an event never see it and removed sessions are skipped.
type Broker struct {
	reg *sessions.Registry
	log *slog.Logger
	met *metrics.Metrics
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger for delivery diagnostics. Without it,
// logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broker) { b.log = log }
}

// WithMetrics wires publish/drop counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) { b.met = m }
}

// New creates a broker over the given session registry.
func New(reg *sessions.Registry, opts ...Option) *Broker {
	b := &Broker{
		reg: reg,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish serializes payload once and enqueues it on every subscriber
// of topic. It never blocks on slow subscribers and never fails the
// caller: delivery problems are logged and counted, and a failure for
// one subscriber does not affect delivery to the rest.
//
// Events published from the same goroutine are enqueued in publish
// order for each subscriber; no ordering holds across topics.
func (b *Broker) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are our own task/event structs; a marshal failure is
		// a programming error, not a subscriber problem.
		b.log.Error("event payload marshal failed", "topic", topic, "err", err)
		return
	}

	if b.met != nil {
		b.met.EventsPublished.WithLabelValues(topic).Inc()
	}

	env := sessions.Envelope{Topic: topic, Data: data}
	for _, sub := range b.reg.SubscribersOf(topic) {
		if err := sub.TrySend(env); err != nil {
			if b.met != nil {
				b.met.DeliveriesDropped.WithLabelValues(topic).Inc()
			}
			switch {
			case errors.Is(err, sessions.ErrSessionClosed):
				b.log.Debug("skipping closed session", "topic", topic, "session", sub.ID())
			default:
				b.log.Warn("dropping event for backpressured session",
					"topic", topic, "session", sub.ID(), "err", err)
			}
		}
	}
}
