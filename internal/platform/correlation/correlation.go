// Package correlation scopes log records to a request and, where known, to
// the poll the request concerns.
package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Header carries a caller-supplied correlation ID.
const Header = "X-Correlation-ID"

const maxInboundIDLength = 64

type scopeKey struct{}

type scope struct {
	id     string
	pollID string
}

func scopeOf(ctx context.Context) scope {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

// NewID returns the first 8 hex digits of a random UUID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// FromHeader returns a usable inbound ID, or a fresh one when the header
// value is empty, too long, or not printable ASCII.
func FromHeader(value string) string {
	if value == "" || len(value) > maxInboundIDLength {
		return NewID()
	}
	for _, r := range value {
		if r < '!' || r > '~' {
			return NewID()
		}
	}
	return value
}

func WithID(ctx context.Context, id string) context.Context {
	s := scopeOf(ctx)
	s.id = id
	return context.WithValue(ctx, scopeKey{}, s)
}

// ID extracts the correlation ID, reporting false when none is set.
func ID(ctx context.Context) (string, bool) {
	id := scopeOf(ctx).id
	return id, id != ""
}

// WithPollID narrows ctx to a poll. The correlation ID is kept.
func WithPollID(ctx context.Context, pollID string) context.Context {
	s := scopeOf(ctx)
	s.pollID = pollID
	return context.WithValue(ctx, scopeKey{}, s)
}

func PollID(ctx context.Context) (string, bool) {
	id := scopeOf(ctx).pollID
	return id, id != ""
}

// Handler decorates records with correlation_id and poll_id taken from the
// record's context.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	s := scopeOf(ctx)
	if s.id != "" {
		r.AddAttrs(slog.String("correlation_id", s.id))
	}
	if s.pollID != "" {
		r.AddAttrs(slog.String("poll_id", s.pollID))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
