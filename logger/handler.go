package logger

import (
	"context"
	"log/slog"
)

// contextHandler adds the values stored with WithContextValue to every
// record logged with a context. Keys already bound with Logger.With or
// present on the record are left alone.
type contextHandler struct {
	slog.Handler
	bound map[string]bool
}

func newContextHandler(h slog.Handler) *contextHandler {
	return &contextHandler{Handler: h}
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		present := make(map[string]bool, r.NumAttrs())
		r.Attrs(func(a slog.Attr) bool {
			present[a.Key] = true
			return true
		})
		var extra []slog.Attr
		for _, key := range contextKeys {
			name := string(key)
			if h.bound[name] || present[name] {
				continue
			}
			if v, ok := ctx.Value(key).(string); ok && v != "" {
				extra = append(extra, slog.String(name, v))
			}
		}
		if len(extra) > 0 {
			r = r.Clone()
			r.AddAttrs(extra...)
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make(map[string]bool, len(h.bound)+len(attrs))
	for k := range h.bound {
		bound[k] = true
	}
	for _, a := range attrs {
		bound[a.Key] = true
	}
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs), bound: bound}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name), bound: h.bound}
}
