package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// secretKeys are attribute names whose values never reach a log sink.
var secretKeys = map[string]bool{
	"passphrase":    true,
	"password":      true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"client_secret": true,
	"private_key":   true,
}

const redacted = "[redacted]"

func redact(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// New fans records out to a JSON stream (always at debug) and a text console
// stream at the given level. Credential attributes are redacted in both.
func New(jsonOut, console io.Writer, level slog.Level) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(jsonOut, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: redact,
	})

	consoleHandler := slog.NewTextHandler(console, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})

	return slog.New(&multiHandler{
		handlers: []slog.Handler{
			jsonHandler,
			consoleHandler,
		},
	})
}

func NewLogger(filename, level string) (*slog.Logger, *os.File, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(
		filename,
		os.O_CREATE|os.O_APPEND|os.O_WRONLY,
		0o640,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return New(file, os.Stdout, lvl), file, nil
}
