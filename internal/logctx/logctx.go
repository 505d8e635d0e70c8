// Package logctx enriches slog records with connection and operation
// attributes carried on the context.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends session and operation
// groups when the context carries them.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("user", sd.Username),
			slog.String("transport", sd.Transport),
		))
	}

	if od, ok := ctx.Value(opDataKey{}).(*OpData); ok {
		r.AddAttrs(slog.Group("op",
			slog.String("name", od.Operation),
			slog.String("callback_id", od.CallbackID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type sessionDataKey struct{}

// SessionData identifies the connection a log record belongs to.
type SessionData struct {
	SessionID string
	Username  string
	Transport string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type opDataKey struct{}

// OpData identifies the in-flight operation.
type OpData struct {
	Operation  string
	CallbackID string
}

func WithOpData(ctx context.Context, data *OpData) context.Context {
	return context.WithValue(ctx, opDataKey{}, data)
}
