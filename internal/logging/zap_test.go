package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_WritesFieldsAndLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapLogger(zap.New(core))
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "inf", entries[1].Message)
	assert.EqualValues(t, 3, entries[2].ContextMap()["c"])
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestZapLogger_With(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewZapLogger(zap.New(core)).With("module", "sessions")

	log.Info(context.Background(), "revoked", "session_id", "s1")

	entries := logs.FilterMessage("revoked").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "sessions", fields["module"])
	assert.Equal(t, "s1", fields["session_id"])
}

func TestNew_Backends(t *testing.T) {
	l, err := New("zap", "info")
	require.NoError(t, err)
	assert.IsType(t, &ZapLogger{}, l)

	l, err = New("slog", "debug")
	require.NoError(t, err)
	assert.IsType(t, &SlogLogger{}, l)

	_, err = New("logrus", "info")
	require.Error(t, err)

	_, err = New("zap", "loud")
	require.Error(t, err)
}

func TestNop_DoesNotPanic(t *testing.T) {
	l := Nop()
	l.Info(context.Background(), "ignored")
	l.With("k", "v").Error(context.Background(), "ignored")
}

func TestZapLogger_ContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewZapLogger(zap.New(core))

	ctx := ContextWith(context.Background(), "method", "/authkeeper.AuthService/Refresh")
	log.Info(ctx, "rotated", "session_id", "s2")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/authkeeper.AuthService/Refresh", fields["method"])
	assert.Equal(t, "s2", fields["session_id"])
}

func TestContextWith_DoesNotShareBacking(t *testing.T) {
	base := ContextWith(context.Background(), "a", 1)
	left := ContextWith(base, "b", 2)
	right := ContextWith(base, "c", 3)

	assert.Equal(t, []any{"a", 1, "b", 2}, fields(left, nil))
	assert.Equal(t, []any{"a", 1, "c", 3}, fields(right, nil))
	assert.Equal(t, []any{"x"}, fields(context.Background(), []any{"x"}))
}
