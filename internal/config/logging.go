package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

func noopClose() error { return nil }

// SetupLogger returns a logger writing human-readable text to stderr. When
// logFile is set, the same records also go to the file as JSON lines; the
// returned func closes it. An unwritable file degrades to stderr only.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	if logFile == "" {
		return SetupLoggerWithWriters(os.Stderr, nil, level), noopClose
	}

	if dir := filepath.Dir(logFile); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := SetupLoggerWithWriters(os.Stderr, nil, level)
		logger.Warn("log file unavailable, logging to stderr only", "file", logFile, "error", err)
		return logger, noopClose
	}
	return SetupLoggerWithWriters(os.Stderr, f, level), f.Close
}

// SetupLoggerWithWriters fans text records to console and JSON records to
// file. A nil file yields a console-only logger.
func SetupLoggerWithWriters(console, file io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	text := slog.NewTextHandler(console, opts)
	if file == nil {
		return slog.New(text)
	}
	return slog.New(slogmulti.Fanout(text, slog.NewJSONHandler(file, opts)))
}
