package uploads

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/taskboard/taskboard-go/auth"
)

var _ http.Handler = (*Handler)(nil)

const defaultMaxUploadBytes = 200 << 20

// Handler accepts authenticated multipart uploads on POST and stores
// the file part named "file".
type Handler struct {
	store    BlobStore
	tokens   auth.TokenVerifier
	log      *slog.Logger
	maxBytes int64
	now      func() time.Time
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger. Without it, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithMaxBytes bounds the accepted request body size.
func WithMaxBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBytes = n
		}
	}
}

// NewHandler constructs the upload endpoint.
func NewHandler(store BlobStore, tokens auth.TokenVerifier, opts ...Option) *Handler {
	h := &Handler{
		store:    store,
		tokens:   tokens,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxBytes: defaultMaxUploadBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type uploadResponse struct {
	OK       bool   `json:"ok"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	ident, err := h.identity(r)
	if err != nil {
		h.log.InfoContext(ctx, "upload.unauthorized")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "File too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file"})
		return
	}
	defer file.Close()

	name := StoredName(header.Filename, h.now())
	contentType := header.Header.Get("Content-Type")
	url, err := h.store.Put(ctx, name, contentType, file)
	if err != nil {
		h.log.ErrorContext(ctx, "upload.store.failed",
			slog.String("name", name),
			slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal error"})
		return
	}

	h.log.InfoContext(ctx, "upload.stored",
		slog.String("user", ident.Username),
		slog.String("name", name),
		slog.Int64("size", header.Size))
	writeJSON(w, http.StatusOK, uploadResponse{OK: true, Filename: name, URL: url})
}

func (h *Handler) identity(r *http.Request) (auth.Identity, error) {
	raw := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	return h.tokens.Verify(r.Context(), token)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
