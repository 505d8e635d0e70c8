// Package graphqlws serves GraphQL over WebSocket using the
// graphql-transport-ws subprotocol. Subscriptions are bound to the
// session registry so broker fan-out reaches live subscribers; queries
// and mutations on the same socket are delegated to the executor.
package graphqlws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskboard/taskboard-go/auth"
	"github.com/taskboard/taskboard-go/gql"
	"github.com/taskboard/taskboard-go/internal/logctx"
	"github.com/taskboard/taskboard-go/sessions"
)

var _ http.Handler = (*Handler)(nil)

// Subprotocol is the WebSocket subprotocol this handler speaks.
const Subprotocol = "graphql-transport-ws"

const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// Close codes defined by the graphql-transport-ws protocol.
const (
	closeUnauthorized     = 4401
	closeBadRequest       = 4400
	closeInitTimeout      = 4408
	closeDuplicateID      = 4409
	closeTooManyInitMsgs  = 4429
	defaultConnectionWait = 5 * time.Second
	defaultWriteTimeout   = 10 * time.Second
)

type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler upgrades HTTP requests to graphql-transport-ws connections.
type Handler struct {
	reg    *sessions.Registry
	exec   gql.Executor
	tokens auth.TokenVerifier
	log    *slog.Logger

	upgrader     websocket.Upgrader
	initWait     time.Duration
	writeTimeout time.Duration
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger. Without it, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithCheckOrigin overrides the upgrader's origin policy.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// WithInitTimeout bounds how long a connection may idle before sending
// connection_init.
func WithInitTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.initWait = d
		}
	}
}

// NewHandler constructs the subscription transport.
func NewHandler(reg *sessions.Registry, exec gql.Executor, tokens auth.TokenVerifier, opts ...Option) *Handler {
	h := &Handler{
		reg:          reg,
		exec:         exec,
		tokens:       tokens,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		initWait:     defaultConnectionWait,
		writeTimeout: defaultWriteTimeout,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{Subprotocol},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WarnContext(r.Context(), "gqlws.upgrade.failed", slog.String("err", err.Error()))
		return
	}

	sess := h.reg.Register()
	ctx := logctx.WithSessionData(context.Background(), &logctx.SessionData{
		SessionID: sess.ID(),
		Transport: "graphql-ws",
	})

	c := &wsConn{
		h:      h,
		conn:   conn,
		sess:   sess,
		ctx:    ctx,
		sendCh: make(chan message, 16),
		done:   make(chan struct{}),
		subs:   make(map[string]*subscription),
		byTop:  make(map[string]map[string]*subscription),
	}
	go c.writePump()
	c.readLoop()
}

type subscription struct {
	id   string
	plan *gql.SubscriptionPlan
}

type wsConn struct {
	h    *Handler
	conn *websocket.Conn
	sess *sessions.Session
	ctx  context.Context

	sendCh chan message
	done   chan struct{}

	mu    sync.Mutex
	init  bool
	ident *auth.Identity
	subs  map[string]*subscription            // operation id -> subscription
	byTop map[string]map[string]*subscription // topic -> operation id -> subscription

	teardown sync.Once
}

func (c *wsConn) close(code int, reason string) {
	c.teardown.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.h.reg.Remove(c.sess.ID())
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *wsConn) readLoop() {
	defer c.close(websocket.CloseNormalClosure, "")

	_ = c.conn.SetReadDeadline(time.Now().Add(c.h.initWait))

	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !c.initialized() {
				c.close(closeInitTimeout, "connection initialisation timeout")
			}
			return
		}

		switch msg.Type {
		case msgConnectionInit:
			if !c.markInitialized() {
				c.close(closeTooManyInitMsgs, "too many initialisation requests")
				return
			}
			_ = c.conn.SetReadDeadline(time.Time{})
			c.attachIdentity(msg.Payload)
			c.send(message{Type: msgConnectionAck})
		case msgPing:
			c.send(message{Type: msgPong})
		case msgPong:
			// Keepalive reply, nothing to do.
		case msgSubscribe:
			if !c.initialized() {
				c.close(closeUnauthorized, "unauthorized")
				return
			}
			if err := c.subscribe(msg); err != nil {
				var ce *closeError
				if errors.As(err, &ce) {
					c.close(ce.code, ce.reason)
					return
				}
				c.send(errorMessage(msg.ID, err.Error()))
			}
		case msgComplete:
			c.completeSubscription(msg.ID)
		default:
			c.close(closeBadRequest, fmt.Sprintf("unexpected message type %q", msg.Type))
			return
		}
	}
}

type closeError struct {
	code   int
	reason string
}

func (e *closeError) Error() string { return e.reason }

func (c *wsConn) initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.init
}

// markInitialized reports false if the connection was already
// initialized.
func (c *wsConn) markInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.init {
		return false
	}
	c.init = true
	return true
}

// attachIdentity resolves the token from connection_init params. An
// absent or invalid token leaves the connection anonymous.
func (c *wsConn) attachIdentity(payload json.RawMessage) {
	if len(payload) == 0 {
		return
	}
	var params struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &params); err != nil || params.Token == "" {
		return
	}
	ident, err := c.h.tokens.Verify(c.ctx, params.Token)
	if err != nil {
		c.h.log.DebugContext(c.ctx, "gqlws.token.invalid", slog.String("err", err.Error()))
		return
	}
	c.mu.Lock()
	c.ident = &ident
	c.mu.Unlock()
	c.ctx = logctx.WithSessionData(c.ctx, &logctx.SessionData{
		SessionID: c.sess.ID(),
		Username:  ident.Username,
		Transport: "graphql-ws",
	})
}

func (c *wsConn) identity() *auth.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ident
}

func (c *wsConn) subscribe(msg message) error {
	if msg.ID == "" {
		return &closeError{code: closeBadRequest, reason: "subscribe without id"}
	}
	var req gql.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return &closeError{code: closeBadRequest, reason: "malformed subscribe payload"}
	}

	plan, err := c.h.exec.PlanSubscription(req)
	if errors.Is(err, gql.ErrNotSubscription) {
		go c.execute(msg.ID, req)
		return nil
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if _, dup := c.subs[msg.ID]; dup {
		c.mu.Unlock()
		return &closeError{code: closeDuplicateID, reason: fmt.Sprintf("subscriber for %s already exists", msg.ID)}
	}
	sub := &subscription{id: msg.ID, plan: plan}
	c.subs[msg.ID] = sub
	first := c.byTop[plan.Topic] == nil
	if first {
		c.byTop[plan.Topic] = make(map[string]*subscription)
	}
	c.byTop[plan.Topic][msg.ID] = sub
	c.mu.Unlock()

	if first {
		if err := c.h.reg.Subscribe(c.sess.ID(), plan.Topic); err != nil {
			c.completeSubscription(msg.ID)
			return err
		}
	}
	c.h.log.DebugContext(c.ctx, "gqlws.subscribed",
		slog.String("op_id", msg.ID),
		slog.String("topic", plan.Topic))
	return nil
}

// execute runs a query or mutation received on the socket and answers
// with a next frame followed by complete, per the protocol.
func (c *wsConn) execute(id string, req gql.Request) {
	ctx := gql.WithIdentity(c.ctx, c.identity())
	res := c.h.exec.Execute(ctx, req)

	if res.Data == nil && res.HasErrors() {
		payload, _ := json.Marshal(res.Errors)
		c.send(message{ID: id, Type: msgError, Payload: payload})
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		c.send(errorMessage(id, "internal error"))
		return
	}
	c.send(message{ID: id, Type: msgNext, Payload: payload})
	c.send(message{ID: id, Type: msgComplete})
}

func (c *wsConn) completeSubscription(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	var lastForTopic bool
	if ok {
		delete(c.subs, id)
		peers := c.byTop[sub.plan.Topic]
		delete(peers, id)
		if len(peers) == 0 {
			delete(c.byTop, sub.plan.Topic)
			lastForTopic = true
		}
	}
	c.mu.Unlock()

	if ok && lastForTopic {
		c.h.reg.Unsubscribe(c.sess.ID(), sub.plan.Topic)
	}
}

// dispatchEvent fans a broker envelope out to every subscription
// following its topic. It runs on the writer goroutine and writes next
// frames directly.
func (c *wsConn) dispatchEvent(env sessions.Envelope) error {
	c.mu.Lock()
	var subs []*subscription
	for _, sub := range c.byTop[env.Topic] {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		value := any(json.RawMessage(env.Data))
		if sub.plan.Project != nil {
			projected, err := sub.plan.Project(env.Data)
			if err != nil {
				c.h.log.WarnContext(c.ctx, "gqlws.project.failed",
					slog.String("topic", env.Topic),
					slog.String("err", err.Error()))
				continue
			}
			value = projected
		}
		payload, err := json.Marshal(&gql.Result{Data: map[string]any{sub.plan.Field: value}})
		if err != nil {
			continue
		}
		if err := c.write(message{ID: sub.id, Type: msgNext, Payload: payload}); err != nil {
			return err
		}
	}
	return nil
}

func (c *wsConn) send(msg message) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	}
}

func errorMessage(id, text string) message {
	payload, _ := json.Marshal([]gql.Error{{Message: text}})
	return message{ID: id, Type: msgError, Payload: payload}
}

// writePump owns all writes on the connection. It interleaves protocol
// replies with broker events for the session.
func (c *wsConn) writePump() {
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.write(msg); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case env, ok := <-c.sess.Events():
			if !ok {
				return
			}
			if err := c.dispatchEvent(env); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) write(msg message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.h.writeTimeout))
	return c.conn.WriteJSON(msg)
}
