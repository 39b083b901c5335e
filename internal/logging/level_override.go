package logging

import (
	"context"
	"log/slog"
)

// minLevelHandler drops records below a per-logger floor before delegating to
// the shared handler, which is built at the most verbose level configured.
type minLevelHandler struct {
	next  slog.Handler
	floor slog.Level
}

func (h *minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.floor && h.next.Enabled(ctx, level)
}

func (h *minLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.floor {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &minLevelHandler{next: h.next.WithAttrs(attrs), floor: h.floor}
}

func (h *minLevelHandler) WithGroup(name string) slog.Handler {
	return &minLevelHandler{next: h.next.WithGroup(name), floor: h.floor}
}

// WithLevelOverride returns a logger that only emits records at or above level.
// Raising verbosity past the base handler's level is not possible; the base
// level still applies.
func WithLevelOverride(logger *slog.Logger, level slog.Level) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	if existing, ok := logger.Handler().(*minLevelHandler); ok {
		return slog.New(&minLevelHandler{next: existing.next, floor: level})
	}
	return slog.New(&minLevelHandler{next: logger.Handler(), floor: level})
}
