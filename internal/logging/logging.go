// Package logging builds the process logger. Every entry is JSON and carries
// the service name and hostname; call sites add an "action" attribute naming
// the event (task_applied, token_expired, sink_publish_failed, ...).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func New(service, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, service, level)
}

func NewWithWriter(w io.Writer, service, level string) *slog.Logger {
	host, _ := os.Hostname()
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h).With("service", service, "hostname", host)
}

// Discard is used by tests and by components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Err wraps an error as a log attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
