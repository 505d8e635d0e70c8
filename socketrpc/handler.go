// Package socketrpc binds the dispatcher to a bidirectional WebSocket
// channel. Each inbound frame names an operation and a callbackId; the
// adapter replies with exactly one correlated response frame and
// pushes broker events as notification frames on the same connection.
package socketrpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskboard/taskboard-go/auth"
	"github.com/taskboard/taskboard-go/broker"
	"github.com/taskboard/taskboard-go/dispatch"
	"github.com/taskboard/taskboard-go/internal/logctx"
	"github.com/taskboard/taskboard-go/internal/wire"
	"github.com/taskboard/taskboard-go/sessions"
)

var _ http.Handler = (*Handler)(nil)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultIdentityTTL  = time.Hour
)

// Handler upgrades HTTP requests to socket RPC connections.
type Handler struct {
	reg    *sessions.Registry
	disp   *dispatch.Dispatcher
	tokens auth.TokenVerifier
	log    *slog.Logger

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pongWait     time.Duration
	identityTTL  time.Duration
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

// WithIdentityTTL bounds how long a handshake-attached identity stays
// valid on the session.
func WithIdentityTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		if ttl > 0 {
			h.identityTTL = ttl
		}
	}
}

// NewHandler constructs the socket RPC adapter. The token verifier is
// used only at handshake; per-operation auth stays in the dispatcher.
func NewHandler(reg *sessions.Registry, disp *dispatch.Dispatcher, tokens auth.TokenVerifier, opts ...Option) *Handler {
	h := &Handler{
		reg:          reg,
		disp:         disp,
		tokens:       tokens,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		writeTimeout: defaultWriteTimeout,
		pongWait:     defaultPongWait,
		identityTTL:  defaultIdentityTTL,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// bearerToken extracts a handshake token from the Authorization header
// or, for browser clients that cannot set headers on WebSocket
// requests, the token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Debug("websocket upgrade failed", "err", err)
		return
	}

	sess := h.reg.Register()
	// Socket clients receive every task change, mirroring the broadcast
	// semantics the RPC protocol promises.
	for _, topic := range broker.Topics {
		_ = h.reg.Subscribe(sess.ID(), topic)
	}

	ctx := logctx.WithSessionData(r.Context(), &logctx.SessionData{
		SessionID: sess.ID(),
		Transport: "socketrpc",
	})

	// A valid handshake token is authoritative; an invalid one degrades
	// to an anonymous session that must call login explicitly.
	if tok := bearerToken(r); tok != "" {
		if ident, err := h.tokens.Verify(ctx, tok); err != nil {
			h.log.DebugContext(ctx, "handshake token rejected; session starts anonymous", "err", err)
		} else {
			_ = h.reg.AttachIdentity(sess.ID(), ident, time.Now().Add(h.identityTTL))
			ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
				SessionID: sess.ID(),
				Username:  ident.Username,
				Transport: "socketrpc",
			})
		}
	}

	h.log.InfoContext(ctx, "client connected")

	done := make(chan struct{})
	respCh := make(chan *wire.Response, 16)
	go h.writePump(ctx, conn, sess, respCh, done)
	h.readLoop(ctx, conn, sess, respCh, done)
}

// readLoop consumes frames until the connection drops, handling each
// request in order. On exit it tears the session down; the write pump
// observes the closed events channel and stops.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *sessions.Session, respCh chan *wire.Response, done chan struct{}) {
	defer func() {
		h.reg.Remove(sess.ID())
		close(done)
		_ = conn.Close()
		h.log.InfoContext(ctx, "client disconnected")
	}()

	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				h.log.WarnContext(ctx, "read error", "err", err)
			}
			return
		}

		var req wire.Request
		if err := json.Unmarshal(msg, &req); err != nil {
			h.log.WarnContext(ctx, "malformed frame", "err", err)
			if cb := salvageCallbackID(msg); cb != "" {
				h.respond(respCh, done, wire.NewErrorResponse(cb, "Bad request"))
			}
			continue
		}

		opCtx := logctx.WithOpData(ctx, &logctx.OpData{Operation: req.Operation, CallbackID: req.CallbackID})
		h.respond(respCh, done, h.handle(opCtx, sess, &req))
	}
}

// respond enqueues a response unless the connection is already gone;
// responses for torn-down sessions are discarded.
func (h *Handler) respond(respCh chan *wire.Response, done chan struct{}, resp *wire.Response) {
	select {
	case respCh <- resp:
	case <-done:
	}
}

func (h *Handler) handle(ctx context.Context, sess *sessions.Session, req *wire.Request) *wire.Response {
	result, err := h.disp.Handle(ctx, sess.ID(), req.Operation, req.Payload)
	if err != nil {
		return wire.NewErrorResponse(req.CallbackID, dispatch.AsError(err).Message)
	}
	resp, err := wire.NewResultResponse(req.CallbackID, result)
	if err != nil {
		h.log.ErrorContext(ctx, "result marshal failed", "err", err)
		return wire.NewErrorResponse(req.CallbackID, "Internal error")
	}
	return resp
}

// writePump owns all writes on the connection: responses, event
// notifications, and keepalive pings.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, sess *sessions.Session, respCh chan *wire.Response, done chan struct{}) {
	pingInterval := h.pongWait * 9 / 10
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteJSON(v); err != nil {
			h.log.DebugContext(ctx, "write error", "err", err)
			_ = conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case env, ok := <-sess.Events():
			if !ok {
				// Session removed; the read loop is tearing down.
				return
			}
			if !write(&wire.Event{Event: env.Topic, Data: env.Data}) {
				return
			}
		case resp := <-respCh:
			if !write(resp) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// salvageCallbackID recovers the correlation id from an otherwise
// invalid frame so the client still gets a structured failure.
func salvageCallbackID(msg []byte) string {
	var probe struct {
		CallbackID string `json:"callbackId"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return ""
	}
	return probe.CallbackID
}
