// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package obslog builds the bridge's structured logger: a console
// handler whose verbosity comes from a RUST_LOG-style directive and
// whose format is slog's text format when both stdout and stderr are
// terminals and JSON otherwise (neither format emits ANSI color
// codes), optionally bridged into OpenTelemetry the way humus.Logger
// bridges log/slog into otelslog.
package obslog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Level parses a directive like "debug", "INFO", or "warn" into a
// [slog.Level]. An empty or unrecognized directive defaults to Info,
// matching the documented default.
func Level(directive string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(directive)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isTerminal reports whether f is attached to a terminal. The
// human-readable text format is only chosen when every stream the
// user might be watching is interactive.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// Options configures [New].
type Options struct {
	// Name is the instrumentation scope passed to otelslog when OTel
	// bridging is enabled.
	Name string

	// OTel enables bridging log records into the global
	// OpenTelemetry LoggerProvider, in addition to the console
	// handler. Leave false for a plain console logger.
	OTel bool

	out, errOut *os.File
}

// New builds the bridge's root [slog.Logger] for the given RUST_LOG
// style level directive.
func New(levelDirective string, opts Options) *slog.Logger {
	out := opts.out
	if out == nil {
		out = os.Stdout
	}
	errOut := opts.errOut
	if errOut == nil {
		errOut = os.Stderr
	}

	level := Level(levelDirective)
	ansi := isTerminal(out) && isTerminal(errOut)

	handler := consoleHandler(out, level, ansi)
	if !opts.OTel {
		return slog.New(handler)
	}

	name := opts.Name
	if name == "" {
		name = "github.com/solanabridge/geyser-kafka-bridge"
	}

	otelLogger := otelslog.NewLogger(name)
	return slog.New(fanoutHandler{primary: handler, secondary: otelLogger.Handler()})
}

func consoleHandler(w io.Writer, level slog.Level, ansi bool) slog.Handler {
	if ansi {
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// fanoutHandler writes every record to both handlers so the console
// keeps working even when the OTel pipeline has no configured
// exporter (it is a noop in that case).
type fanoutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.primary.Enabled(ctx, record.Level) {
		if err := h.primary.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	if h.secondary.Enabled(ctx, record.Level) {
		return h.secondary.Handle(ctx, record.Clone())
	}
	return nil
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return fanoutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	return fanoutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}
