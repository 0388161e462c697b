// Package log provides the logging infrastructure for docsrag.
//
// Loggers are *slog.Logger values injected via constructors; there is no
// package-level global. Components add context with logger.With(), and the
// HTTP layer attaches the per-request correlation ID the same way, so every
// record emitted while serving a request carries request_id.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is an alias for *slog.Logger so that constructors can name their
// dependency without redefining the standard interface surface.
type Logger = *slog.Logger

// Config controls handler construction.
type Config struct {
	// Level is the minimum level emitted. Zero value is slog.LevelInfo.
	Level slog.Level

	// JSON selects the JSON handler instead of the text handler.
	JSON bool

	// AddSource annotates records with file:line of the call site.
	AddSource bool
}

// New returns a logger writing to stderr with the given configuration.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter returns a logger writing to w. Tests use this with a
// bytes.Buffer to inspect emitted records.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop returns a logger that discards everything. Test-only; production
// callers should always construct a real logger via New or NewWithWriter.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a configuration string to a slog.Level. Unknown values
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
