package storebundle

import (
	"context"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// hclogHandler adapts an hclog.Logger into an slog.Handler, so the
// scheduler's leveled background-job logs can be routed through hclog
// (which the gocron ecosystem favors for library-internal logging) while
// still composing with every other component's dependency-injected
// *slog.Logger (internal/logging).
type hclogHandler struct {
	logger hclog.Logger
	attrs  []slog.Attr
}

// newHclogHandler builds an hclog logger with the given name (that of the
// scheduler component it backs) and level, and wraps it.
func newHclogHandler(name string, level hclog.Level) *hclogHandler {
	return &hclogHandler{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:  name,
			Level: level,
		}),
	}
}

func (h *hclogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return slogLevelToHclog(level) >= h.logger.GetLevel()
}

func (h *hclogHandler) Handle(_ context.Context, r slog.Record) error {
	args := make([]any, 0, 2*(len(h.attrs)+r.NumAttrs()))
	for _, a := range h.attrs {
		args = append(args, a.Key, a.Value.Resolve().Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		args = append(args, a.Key, a.Value.Resolve().Any())
		return true
	})

	switch {
	case r.Level >= slog.LevelError:
		h.logger.Error(r.Message, args...)
	case r.Level >= slog.LevelWarn:
		h.logger.Warn(r.Message, args...)
	case r.Level >= slog.LevelInfo:
		h.logger.Info(r.Message, args...)
	default:
		h.logger.Debug(r.Message, args...)
	}
	return nil
}

func (h *hclogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &hclogHandler{logger: h.logger, attrs: make([]slog.Attr, 0, len(h.attrs)+len(attrs))}
	next.attrs = append(next.attrs, h.attrs...)
	next.attrs = append(next.attrs, attrs...)
	return next
}

func (h *hclogHandler) WithGroup(name string) slog.Handler {
	return &hclogHandler{logger: h.logger.Named(name), attrs: h.attrs}
}

func slogLevelToHclog(level slog.Level) hclog.Level {
	switch {
	case level >= slog.LevelError:
		return hclog.Error
	case level >= slog.LevelWarn:
		return hclog.Warn
	case level >= slog.LevelInfo:
		return hclog.Info
	default:
		return hclog.Debug
	}
}

// newSchedulerLogger builds the *slog.Logger the BundleScheduler logs
// through, backed by hclog rather than the default discard/text handler
// every other component uses — a deliberately distinct sink so background
// sweep activity can be filtered or routed independently of request-scoped
// logs.
func newSchedulerLogger() *slog.Logger {
	return slog.New(newHclogHandler("store-bundle-scheduler", hclog.Info))
}
