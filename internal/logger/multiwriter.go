package logger

import (
	"context"
	"errors"
	"log/slog"
)

// splitHandler routes each record to the console text handler and the JSON
// run log. Each side keeps its own level, so a debug file log does not make
// the console verbose.
type splitHandler struct {
	console slog.Handler
	file    slog.Handler
}

func newSplitHandler(console, file slog.Handler) slog.Handler {
	return &splitHandler{console: console, file: file}
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Enabled(ctx, level) || h.file.Enabled(ctx, level)
}

// Handle writes to whichever side accepts the level. A failed console write
// does not stop the record reaching the file.
func (h *splitHandler) Handle(ctx context.Context, record slog.Record) error {
	var consoleErr, fileErr error
	if h.console.Enabled(ctx, record.Level) {
		consoleErr = h.console.Handle(ctx, record.Clone())
	}
	if h.file.Enabled(ctx, record.Level) {
		fileErr = h.file.Handle(ctx, record)
	}
	return errors.Join(consoleErr, fileErr)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{console: h.console.WithAttrs(attrs), file: h.file.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{console: h.console.WithGroup(name), file: h.file.WithGroup(name)}
}
