// Package dispatch routes named operations to handlers: it enforces
// authentication, validates input, mutates the task store, and
// publishes change events after successful mutations.
//
// Dispatch is synchronous from the caller's point of view: one request
// yields exactly one result. Event publication is fire-and-forget:
// the broker only enqueues, so a slow subscriber never delays the
// direct response.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/taskboard/taskboard-go/auth"
	"github.com/taskboard/taskboard-go/broker"
	"github.com/taskboard/taskboard-go/internal/logctx"
	"github.com/taskboard/taskboard-go/metrics"
	"github.com/taskboard/taskboard-go/sessions"
	"github.com/taskboard/taskboard-go/tasks"
)

// Operation names accepted by Handle.
const (
	OpLogin      = "login"
	OpLogout     = "logout"
	OpMe         = "me"
	OpListTasks  = "listTasks"
	OpAddTask    = "addTask"
	OpMarkDone   = "markDone"
	OpDeleteTask = "deleteTask"
)

// Config wires the dispatcher's collaborators.
type Config struct {
	Store       *tasks.Store
	Registry    *sessions.Registry
	Broker      *broker.Broker
	Credentials auth.CredentialVerifier
	Tokens      auth.Tokens

	// TokenTTL bounds how long a session identity attached at login
	// stays valid. Defaults to one hour, matching the token lifetime.
	TokenTTL time.Duration

	// Logger defaults to discarding.
	Logger *slog.Logger

	// Metrics, if set, receives per-operation outcome counters.
	Metrics *metrics.Metrics
}

// Dispatcher is the single entry point for every operation, regardless
// of which transport carried it.
type Dispatcher struct {
	store  *tasks.Store
	reg    *sessions.Registry
	broker *broker.Broker
	creds  auth.CredentialVerifier
	tokens auth.Tokens
	ttl    time.Duration
	log    *slog.Logger
	met    *metrics.Metrics
}

// New constructs a Dispatcher. Store, Registry, Broker, Credentials,
// and Tokens are required.
func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("task store is required")
	case cfg.Registry == nil:
		return nil, errors.New("session registry is required")
	case cfg.Broker == nil:
		return nil, errors.New("event broker is required")
	case cfg.Credentials == nil:
		return nil, errors.New("credential verifier is required")
	case cfg.Tokens == nil:
		return nil, errors.New("token collaborator is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		store:  cfg.Store,
		reg:    cfg.Registry,
		broker: cfg.Broker,
		creds:  cfg.Credentials,
		tokens: cfg.Tokens,
		ttl:    cfg.TokenTTL,
		log:    cfg.Logger,
		met:    cfg.Metrics,
	}, nil
}

// LoginResult is the direct response to a successful login.
type LoginResult struct {
	Token string        `json:"token"`
	User  auth.Identity `json:"user"`
}

// DeletedEvent is the fan-out payload for task.deleted.
type DeletedEvent struct {
	ID int64 `json:"id"`
}

// Handle processes one operation on behalf of a live session. login
// and logout manage the session's identity; every other operation
// requires a non-expired identity. Returned errors are always *Error.
func (d *Dispatcher) Handle(ctx context.Context, sessionID, op string, payload json.RawMessage) (any, error) {
	sess, ok := d.reg.Get(sessionID)
	if !ok {
		// Disconnect raced the operation; the response will be
		// discarded, but keep the one-request-one-response contract.
		return nil, d.finish(ctx, op, errInternal())
	}

	switch op {
	case OpLogin:
		if sess.Identity() != nil {
			return nil, d.finish(ctx, op, errValidation("already authenticated"))
		}
		res, err := d.login(ctx, payload)
		if err != nil {
			return nil, d.finish(ctx, op, err)
		}
		if err := d.reg.AttachIdentity(sessionID, res.User, time.Now().Add(d.ttl)); err != nil {
			return nil, d.finish(ctx, op, errInternal())
		}
		return res, d.finish(ctx, op, nil)

	case OpLogout:
		_ = d.reg.ClearIdentity(sessionID)
		return nil, d.finish(ctx, op, nil)

	default:
		res, err := d.HandleAs(ctx, sess.Identity(), op, payload)
		return res, err
	}
}

// HandleAs processes one operation for an already-resolved identity.
// It backs sessionless callers such as GraphQL resolvers, where the
// identity comes from a bearer header rather than a live session.
// ident may be nil (anonymous). Returned errors are always *Error.
func (d *Dispatcher) HandleAs(ctx context.Context, ident *auth.Identity, op string, payload json.RawMessage) (any, error) {
	res, err := d.handleAs(ctx, ident, op, payload)
	return res, d.finish(ctx, op, err)
}

func (d *Dispatcher) handleAs(ctx context.Context, ident *auth.Identity, op string, payload json.RawMessage) (any, error) {
	switch op {
	case OpLogin:
		return d.login(ctx, payload)

	case OpLogout:
		// Stateless logout: nothing to tear down.
		return nil, nil

	case OpMe:
		return ident, nil
	}

	if ident == nil {
		return nil, errUnauthorized()
	}

	switch op {
	case OpListTasks:
		var p listParams
		if err := parse(payload, &p); err != nil {
			return nil, err
		}
		filter, err := p.filter()
		if err != nil {
			return nil, err
		}
		return d.store.List(filter), nil

	case OpAddTask:
		var p addParams
		if err := parse(payload, &p); err != nil {
			return nil, err
		}
		task, err := d.store.Insert(p.Title, p.Date, p.FileName, ident.Username)
		if err != nil {
			return nil, err
		}
		d.broker.Publish(broker.TopicTaskAdded, task)
		return task, nil

	case OpMarkDone:
		var p idParams
		if err := parse(payload, &p); err != nil {
			return nil, err
		}
		task, changed, err := d.store.MarkDone(int64(p.ID))
		if err != nil {
			return nil, err
		}
		// Re-marking a done task is a deliberate no-op: no error and no
		// duplicate task.updated event.
		if changed {
			d.broker.Publish(broker.TopicTaskUpdated, task)
		}
		return task, nil

	case OpDeleteTask:
		var p idParams
		if err := parse(payload, &p); err != nil {
			return nil, err
		}
		if err := d.store.Remove(int64(p.ID)); err != nil {
			return nil, err
		}
		d.broker.Publish(broker.TopicTaskDeleted, DeletedEvent{ID: int64(p.ID)})
		return nil, nil

	default:
		return nil, errValidation("unknown operation")
	}
}

func (d *Dispatcher) login(ctx context.Context, payload json.RawMessage) (*LoginResult, error) {
	var p loginParams
	if err := parse(payload, &p); err != nil {
		return nil, err
	}
	if p.Username == "" || p.Password == "" {
		return nil, errValidation("missing credentials")
	}

	ident, err := d.creds.Verify(ctx, p.Username, p.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return nil, &Error{Kind: KindUnauthorized, Message: "Invalid credentials"}
		}
		d.log.ErrorContext(ctx, "credential verifier failed", "err", err)
		return nil, &Error{Kind: KindUpstream, Message: "Internal error"}
	}

	token, err := d.tokens.Issue(ident)
	if err != nil {
		d.log.ErrorContext(ctx, "token issuance failed", "err", err)
		return nil, &Error{Kind: KindUpstream, Message: "Internal error"}
	}
	return &LoginResult{Token: token, User: ident}, nil
}

// finish normalizes err, records the outcome, and logs failures. It
// returns the normalized error (nil on success).
func (d *Dispatcher) finish(ctx context.Context, op string, err error) error {
	ctx = logctx.WithOpData(ctx, &logctx.OpData{Operation: op})

	if err == nil {
		if d.met != nil {
			d.met.OperationsTotal.WithLabelValues(op, "ok").Inc()
		}
		d.log.DebugContext(ctx, "operation succeeded")
		return nil
	}

	e := AsError(err)
	if d.met != nil {
		d.met.OperationsTotal.WithLabelValues(op, string(e.Kind)).Inc()
	}
	switch e.Kind {
	case KindInternal, KindUpstream:
		d.log.WarnContext(ctx, "operation failed", "kind", e.Kind, "err", err)
	default:
		d.log.DebugContext(ctx, "operation rejected", "kind", e.Kind, "msg", e.Message)
	}
	return e
}

func parse(payload json.RawMessage, into any) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return errValidation("malformed payload")
	}
	return nil
}
