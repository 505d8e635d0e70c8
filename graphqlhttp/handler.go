// Package graphqlhttp serves GraphQL queries and mutations over plain
// HTTP POST. It resolves the caller's identity from a bearer token,
// hands the request to the executor, and writes the result with the
// media type the client asked for.
package graphqlhttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/taskboard/taskboard-go/auth"
	"github.com/taskboard/taskboard-go/gql"
	"github.com/taskboard/taskboard-go/internal/logctx"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	graphqlMediaType     = contenttype.NewMediaType("application/graphql-response+json")
	acceptableMediaTypes = []contenttype.MediaType{jsonMediaType, graphqlMediaType}
)

const maxBodyBytes = 1 << 20

// Handler answers GraphQL POST requests.
type Handler struct {
	exec    gql.Executor
	tokens  auth.TokenVerifier
	log     *slog.Logger
	timeout time.Duration
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger. Without it, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithTimeout bounds the execution time of a single request.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler constructs the GraphQL HTTP adapter.
func NewHandler(exec gql.Executor, tokens auth.TokenVerifier, opts ...Option) *Handler {
	h := &Handler{
		exec:    exec,
		tokens:  tokens,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, jsonMediaType, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	respType := jsonMediaType
	if r.Header.Get("Accept") != "" {
		accepted, _, err := contenttype.GetAcceptableMediaType(r, acceptableMediaTypes)
		if err != nil {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		respType = accepted
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeError(w, respType, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	var req gql.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, respType, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, respType, http.StatusBadRequest, "Missing query")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ident := h.identity(ctx, r)
	ctx = gql.WithIdentity(ctx, ident)
	if ident != nil {
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Username: ident.Username, Transport: "http"})
	}

	start := time.Now()
	res := h.exec.Execute(ctx, req)
	h.log.InfoContext(ctx, "graphql.request",
		slog.Bool("errors", res.HasErrors()),
		slog.Duration("dur", time.Since(start)))

	writeResult(w, respType, res)
}

// identity resolves the bearer token to a caller identity. A missing
// or invalid token leaves the caller anonymous; resolvers decide what
// anonymous callers may do.
func (h *Handler) identity(ctx context.Context, r *http.Request) *auth.Identity {
	raw := r.Header.Get("Authorization")
	if raw == "" {
		return nil
	}
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		return nil
	}
	ident, err := h.tokens.Verify(ctx, token)
	if err != nil {
		h.log.DebugContext(ctx, "graphql.token.invalid", slog.String("err", err.Error()))
		return nil
	}
	return &ident
}

func writeResult(w http.ResponseWriter, mt contenttype.MediaType, res *gql.Result) {
	w.Header().Set("Content-Type", mt.String())
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

func writeError(w http.ResponseWriter, mt contenttype.MediaType, status int, msg string) {
	w.Header().Set("Content-Type", mt.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&gql.Result{Errors: []gql.Error{{Message: msg}}})
}
