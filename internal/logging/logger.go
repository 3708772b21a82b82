// Package logging defines the structured-logging interface used across
// authkeeper, with zap and slog implementations.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key-value pairs, e.g.:
//
//	log.Info(ctx, "signing key rotated", "kid", kid, "expires_at", exp)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}

// Backend names accepted by New.
const (
	BackendZap  = "zap"
	BackendSlog = "slog"
)

// New builds a JSON logger writing to stdout for the given backend and level
// ("debug", "info", "warn", "error").
func New(backend, level string) (Logger, error) {
	switch strings.ToLower(backend) {
	case "", BackendZap:
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		z, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build zap logger: %w", err)
		}
		return NewZapLogger(z), nil
	case BackendSlog:
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
		return NewSlogLogger(slog.New(h)), nil
	default:
		return nil, fmt.Errorf("unknown log backend %q", backend)
	}
}

type fieldsKey struct{}

// ContextWith returns a child of ctx carrying key-value pairs that every
// Logger call made with it will include.
func ContextWith(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(fieldsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(append(merged, prev...), args...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

func fields(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	extra, _ := ctx.Value(fieldsKey{}).([]any)
	if len(extra) == 0 {
		return args
	}
	out := make([]any, 0, len(extra)+len(args))
	return append(append(out, extra...), args...)
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return NewZapLogger(zap.NewNop())
}
