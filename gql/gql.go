// Package gql defines the executor contract shared by the GraphQL
// transport bindings. The HTTP and WebSocket adapters treat the
// executor as a black box: they hand it a request plus the caller's
// identity and relay whatever result it produces.
package gql

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/taskboard/taskboard-go/auth"
)

// ErrNotSubscription is returned by PlanSubscription when the document
// parses but its operation is a query or mutation. Transports fall
// back to Execute in that case.
var ErrNotSubscription = errors.New("gql: document is not a subscription")

// Request is a single GraphQL document execution request.
type Request struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName,omitempty"`
	Variables     json.RawMessage `json:"variables,omitempty"`
}

// Error is a GraphQL response error entry.
type Error struct {
	Message string `json:"message"`
}

// Result is the executor's answer for queries and mutations. A result
// may carry both partial data and errors.
type Result struct {
	Data   any     `json:"data,omitempty"`
	Errors []Error `json:"errors,omitempty"`
}

// HasErrors reports whether the result carries at least one error.
func (r *Result) HasErrors() bool { return len(r.Errors) > 0 }

// SubscriptionPlan describes how a transport should service a
// subscription operation: which broker topic to follow, the root field
// name to wrap payloads under, and an optional projection applied to
// each event payload before wrapping.
type SubscriptionPlan struct {
	Topic string
	Field string

	// Project rewrites the raw event payload for this field. A nil
	// Project passes the payload through unchanged.
	Project func(data json.RawMessage) (any, error)
}

// Executor runs GraphQL documents against the application core.
type Executor interface {
	// Execute runs a query or mutation document.
	Execute(ctx context.Context, req Request) *Result

	// PlanSubscription inspects a subscription document and returns
	// the plan a transport needs to service it from the event broker.
	// It returns an error for documents that are not single-field
	// subscriptions over a known topic.
	PlanSubscription(req Request) (*SubscriptionPlan, error)
}

type identityKey struct{}

// WithIdentity attaches the caller's identity to the context for the
// executor's resolvers. A nil identity marks the caller anonymous.
func WithIdentity(ctx context.Context, ident *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// IdentityFrom returns the identity attached by WithIdentity, or nil.
func IdentityFrom(ctx context.Context) *auth.Identity {
	ident, _ := ctx.Value(identityKey{}).(*auth.Identity)
	return ident
}
