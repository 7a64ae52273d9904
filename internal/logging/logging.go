package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init configures the process-wide default slog logger. format is "text"
// (the default) or "json".
func Init(verbose bool, format string) {
	slog.SetDefault(New(os.Stderr, verbose, format))
}

// New returns a logger writing to w.
func New(w io.Writer, verbose bool, format string) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
