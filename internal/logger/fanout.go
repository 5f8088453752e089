package logger

import (
	"context"
	"errors"
	"log/slog"
)

// fanoutHandler sends each record to every output whose own level admits it,
// so the console and the JSON file can run at different levels.
type fanoutHandler struct {
	outputs []slog.Handler
}

func newFanoutHandler(outputs ...slog.Handler) slog.Handler {
	kept := make([]slog.Handler, 0, len(outputs))
	for _, h := range outputs {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &fanoutHandler{outputs: kept}
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, out := range h.outputs {
		if out.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler requires record by value
func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, out := range h.outputs {
		if !out.Enabled(ctx, record.Level) {
			continue
		}
		if err := out.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.each(func(out slog.Handler) slog.Handler { return out.WithAttrs(attrs) })
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return h.each(func(out slog.Handler) slog.Handler { return out.WithGroup(name) })
}

func (h *fanoutHandler) each(fn func(slog.Handler) slog.Handler) slog.Handler {
	next := make([]slog.Handler, len(h.outputs))
	for i, out := range h.outputs {
		next[i] = fn(out)
	}
	return &fanoutHandler{outputs: next}
}
