package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("debug", "json")
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = New("nonsense", "json")
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRunID(ctx, 42)
	ctx = WithStepID(ctx, 7)
	ctx = WithRequestID(ctx, "req-1")

	fields := ContextFields(ctx)
	require.Len(t, fields, 3)
	assert.Equal(t, "run_id", fields[0].Key)
	assert.Equal(t, int64(42), fields[0].Integer)
	assert.Equal(t, "step_id", fields[1].Key)
	assert.Equal(t, int64(7), fields[1].Integer)
	assert.Equal(t, "request_id", fields[2].Key)
}

func TestLoggerEmitsContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), 9)

	tl.Info(ctx, "step dispatched", zap.String("step", "build"))

	tl.AssertLogged(t, zapcore.InfoLevel, "step dispatched")
	tl.AssertField(t, "step dispatched", "run_id")
	tl.AssertField(t, "step dispatched", "step")
}

func TestFromContext(t *testing.T) {
	// Missing logger yields a nop, never nil.
	logger := FromContext(context.Background())
	require.NotNil(t, logger)

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestNamedAndWith(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Logger.Named("dispatcher").With(zap.String("component", "planner"))
	child.Info(context.Background(), "planned")

	entries := tl.FilterMessage("planned").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "dispatcher", entries[0].LoggerName)
}
