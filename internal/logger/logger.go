// Package logger builds the process-wide structured logger cmd/tabrmd
// installs at startup, and carries per-connection/per-command identity
// (LogContext) through a context.Context so internal/broker's log calls
// can be enriched without threading connection and command parameters
// through every method signature.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

// Init builds a *slog.Logger from cfg, installs it as the slog default,
// and returns it. Output "" and "stdout" both mean os.Stdout; "stderr"
// means os.Stderr; anything else is opened as a file path, appending.
func Init(cfg Config) (*slog.Logger, error) {
	w, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	l := slog.New(h)
	slog.SetDefault(l)
	return l, nil
}

func openOutput(output string) (*os.File, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", output, err)
		}
		return f, nil
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
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

// WithLogContext returns l with the request-scoped fields carried by
// ctx's LogContext, if any, bound as attributes — so every subsequent
// call on the returned logger carries connection/command identity
// automatically instead of each call site re-stating it.
func WithLogContext(l *slog.Logger, ctx context.Context) *slog.Logger {
	lc := FromContext(ctx)
	if lc == nil {
		return l
	}

	args := make([]any, 0, 3)
	if lc.ConnectionID != "" {
		args = append(args, ConnectionID(lc.ConnectionID))
	}
	if lc.CommandCode != 0 {
		args = append(args, CommandCode(lc.CommandCode))
	}
	if lc.Tag != 0 {
		args = append(args, Tag(lc.Tag))
	}
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}
