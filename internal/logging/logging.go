// Package logging scopes the injected slog loggers of caterva and schunk.
//
// Callers pass a logger in or leave it nil; nil means silence. Each
// component tags its logger once, when it is built, and the global slog
// logger is never consulted.
//
// Records are emitted when an array or super-chunk is created, opened,
// saved, resized or freed. Per-chunk work stays silent.
package logging

import (
	"context"
	"log/slog"
)

// nopHandler reports every level as disabled, so records are never built.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }

// Nop is a logger with every level disabled.
func Nop() *slog.Logger {
	return slog.New(nopHandler{})
}

// OrNop passes logger through and substitutes Nop for nil.
func OrNop(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

// Component tags OrNop(logger) with component=name.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return OrNop(logger).With("component", name)
}
