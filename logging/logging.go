// Package logging builds the process-wide slog logger from config.Log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/next-trace/scg-consumer/config"
)

// Rotation limits for the optional log file.
const (
	MaxSizeMB  = 50
	MaxBackups = 3
	MaxAgeDays = 7
)

// New returns a logger writing to stdout, teed into a rotating file when cfg.File is set.
// The returned cleanup closes the file.
func New(cfg config.Log) (*slog.Logger, func(), error) {
	return NewWithWriter(os.Stdout, cfg)
}

// NewWithWriter is New with the console writer replaced.
func NewWithWriter(console io.Writer, cfg config.Log) (*slog.Logger, func(), error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, func() {}, err
	}

	w := console
	cleanup := func() {}

	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
		}
		w = io.MultiWriter(console, file)
		cleanup = func() { _ = file.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		cleanup()
		return nil, func() {}, fmt.Errorf("log format %q is unknown", cfg.Format)
	}

	return slog.New(h), cleanup, nil
}

// ParseLevel maps a config level name to a slog level; empty means info.
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
	default:
		return 0, fmt.Errorf("log level %q is unknown", s)
	}
}
