// Package logger provides the structured logging surface used across the
// resolver core. It never imports a terminal-formatting stack itself;
// embedders install one (e.g. github.com/lmittmann/tint) via SetHandler.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"time"
)

var defaultHandler atomic.Pointer[slog.Handler]

// SetHandler installs the slog.Handler used by Log. Safe to call once during
// embedder init; if never called, slog.Default()'s handler is used.
func SetHandler(h slog.Handler) {
	defaultHandler.Store(&h)
}

func handler() slog.Handler {
	if h := defaultHandler.Load(); h != nil {
		return *h
	}
	return slog.Default().Handler()
}

// Log emits a record at lvl, attributing it to the caller of Log rather than
// to this package, and attaching ctx-scoped values (e.g. request trace IDs)
// a handler may want to render.
func Log(ctx context.Context, lvl slog.Level, msg string, attrs ...slog.Attr) {
	h := handler()
	if !h.Enabled(ctx, lvl) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	fr, _ := runtime.CallersFrames(pcs[:]).Next()

	record := slog.NewRecord(time.Now(), lvl, msg, fr.PC)
	record.AddAttrs(attrs...)
	_ = h.Handle(ctx, record)
}

// Err wraps an error as a standard "error" attribute.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// Debugf is a convenience used by packages that don't need to build slog.Attr
// values by hand.
func Debugf(ctx context.Context, msg string, args ...any) {
	Log(ctx, slog.LevelDebug, msg, slog.Any("args", args))
}

// Fatal logs msg at error level and terminates the process, for an
// embedder's own unrecoverable setup failures.
func Fatal(ctx context.Context, msg string, attrs ...slog.Attr) {
	Log(ctx, slog.LevelError, msg, attrs...)
	os.Exit(1)
}
